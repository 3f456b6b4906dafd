package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/envelope"
)

// APIHandlers serves the REST resources of the development backend.
type APIHandlers struct {
	backend *devserver.Backend
	log     *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(backend *devserver.Backend, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		backend: backend,
		log:     logger,
	}
}

func respond(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, envelope.Envelope[any]{Status: true, Message: message, Data: data})
}

// fail maps backend errors onto responses. Validation problems are handled
// failures and still answer 200.
func (h *APIHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, devserver.ErrNotFound):
		c.JSON(http.StatusNotFound, envelope.Failure(err.Error()))
	case errors.Is(err, devserver.ErrInvalid), errors.Is(err, devserver.ErrNotApproved):
		c.JSON(http.StatusOK, envelope.Failure(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"data": gin.H{"message": "Internal server error"}})
	}
}

func (h *APIHandlers) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, envelope.Failure("Invalid request body"))
		return false
	}
	return true
}

// Version handles GET /version.
func (h *APIHandlers) Version(c *gin.Context) {
	respond(c, "", api.Version{Version: devserver.Version})
}

// ListSecrets handles GET /user/settings/secrets.
func (h *APIHandlers) ListSecrets(c *gin.Context) {
	respond(c, "", h.backend.SecretNames(userID(c)))
}

// UpdateSecrets handles PUT /user/settings/secrets.
func (h *APIHandlers) UpdateSecrets(c *gin.Context) {
	var values map[string]string
	if !h.bind(c, &values) {
		return
	}
	respond(c, "Secrets saved", h.backend.SetSecrets(userID(c), values))
}

func (h *APIHandlers) GetProfile(c *gin.Context) {
	respond(c, "", h.backend.Profile(userID(c), c.GetString(ContextKeyEmail)))
}

func (h *APIHandlers) UpdateProfile(c *gin.Context) {
	var p api.Profile
	if !h.bind(c, &p) {
		return
	}
	respond(c, "Profile saved", h.backend.UpdateProfile(userID(c), p))
}

func (h *APIHandlers) ListSkills(c *gin.Context) {
	respond(c, "", h.backend.Skills(userID(c)))
}

func (h *APIHandlers) GetSkill(c *gin.Context) {
	s, err := h.backend.Skill(userID(c), c.Query("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", s)
}

func (h *APIHandlers) SaveSkill(c *gin.Context) {
	var s api.Skill
	if !h.bind(c, &s) {
		return
	}
	saved, err := h.backend.SaveSkill(userID(c), s)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Skill saved", saved)
}

func (h *APIHandlers) DeleteSkill(c *gin.Context) {
	if err := h.backend.DeleteSkill(userID(c), c.Query("id")); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Skill deleted", nil)
}

func (h *APIHandlers) ApproveSkill(c *gin.Context) {
	if err := h.backend.ApproveSkill(userID(c), c.Query("id")); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Skill approved", nil)
}

func (h *APIHandlers) ExecuteSkill(c *gin.Context) {
	var e api.SkillExecution
	if !h.bind(c, &e) {
		return
	}
	out, err := h.backend.ExecuteSkill(userID(c), e)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", out)
}

func (h *APIHandlers) ListAgents(c *gin.Context) {
	respond(c, "", h.backend.Agents(userID(c)))
}

func (h *APIHandlers) GetAgent(c *gin.Context) {
	a, err := h.backend.Agent(userID(c), c.Query("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", a)
}

func (h *APIHandlers) SaveAgent(c *gin.Context) {
	var a api.Agent
	if !h.bind(c, &a) {
		return
	}
	saved, err := h.backend.SaveAgent(userID(c), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Agent saved", saved)
}

func (h *APIHandlers) DeleteAgent(c *gin.Context) {
	if err := h.backend.DeleteAgent(userID(c), c.Query("id")); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Agent deleted", nil)
}

func (h *APIHandlers) ListAgencies(c *gin.Context) {
	respond(c, "", h.backend.Agencies(userID(c)))
}

func (h *APIHandlers) GetAgency(c *gin.Context) {
	a, err := h.backend.Agency(userID(c), c.Query("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", a)
}

func (h *APIHandlers) SaveAgency(c *gin.Context) {
	var a api.Agency
	if !h.bind(c, &a) {
		return
	}
	saved, err := h.backend.SaveAgency(userID(c), a)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Agency saved", saved)
}

func (h *APIHandlers) DeleteAgency(c *gin.Context) {
	if err := h.backend.DeleteAgency(userID(c), c.Query("id")); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Agency deleted", nil)
}

func (h *APIHandlers) ListSessions(c *gin.Context) {
	respond(c, "", h.backend.Sessions(userID(c)))
}

// CreateSession handles POST /session?agency_id=.
func (h *APIHandlers) CreateSession(c *gin.Context) {
	s, err := h.backend.CreateSession(userID(c), c.Query("agency_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Session created", api.CreatedSession{SessionID: s.SessionID})
}

func (h *APIHandlers) DeleteSession(c *gin.Context) {
	if err := h.backend.DeleteSession(userID(c), c.Query("id")); err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "Session deleted", nil)
}

// ListMessages handles GET /message/list?session_id=[&after=].
func (h *APIHandlers) ListMessages(c *gin.Context) {
	msgs, err := h.backend.Messages(userID(c), c.Query("session_id"), c.Query("after"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", msgs)
}

func (h *APIHandlers) PostMessage(c *gin.Context) {
	var m api.Message
	if !h.bind(c, &m) {
		return
	}
	saved, err := h.backend.PostMessage(userID(c), m)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, "", saved)
}

package api_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/auth"
	"github.com/vovakirdan/agencyctl/internal/client"
	"github.com/vovakirdan/agencyctl/internal/credential"
	"github.com/vovakirdan/agencyctl/internal/devserver"
	"github.com/vovakirdan/agencyctl/internal/envelope"
	"github.com/vovakirdan/agencyctl/internal/identity/local"
	transporthttp "github.com/vovakirdan/agencyctl/internal/transport/http"
)

type stack struct {
	api   *api.API
	store *credential.Store
	auth  *auth.Manager
}

func newStack(t *testing.T) stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	provider := local.NewProvider(&local.JWTConfig{
		Secret:   []byte("integration"),
		Issuer:   "agencyctl",
		Audience: "agency-backend",
		TTL:      time.Hour,
	})
	_, err := provider.Register(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	_, err = provider.SignIn(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)

	ts := httptest.NewServer(transporthttp.NewRouter(devserver.NewBackend(), provider, transporthttp.DefaultBasePath, 0, nil))
	t.Cleanup(ts.Close)

	store := credential.NewStore()
	mgr := auth.NewManager(store, provider)
	require.NoError(t, mgr.SignIn(ctx))

	c := client.New(mgr, store, client.WithBaseURL(ts.URL+transporthttp.DefaultBasePath))
	return stack{api: api.New(c), store: store, auth: mgr}
}

func TestWorkflowRoundTrip(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	agency := s.api.SaveAgency(ctx, api.Agency{Name: "research", MainAgent: "CEO"})
	require.True(t, agency.Status, agency.Message)
	require.NotEmpty(t, agency.Data.ID)

	list := s.api.ListAgencies(ctx)
	require.True(t, list.Status)
	require.Len(t, list.Data, 1)

	created := s.api.CreateSession(ctx, agency.Data.ID)
	require.True(t, created.Status, created.Message)
	sessionID := created.Data.SessionID
	require.NotEmpty(t, sessionID)

	first := s.api.PostMessage(ctx, api.Message{SessionID: sessionID, Content: "one"})
	require.True(t, first.Status, first.Message)
	second := s.api.PostMessage(ctx, api.Message{SessionID: sessionID, Content: "two"})
	require.True(t, second.Status, second.Message)

	all := s.api.ListMessages(ctx, sessionID, "")
	require.True(t, all.Status)
	require.Len(t, all.Data, 2)

	newer := s.api.ListMessages(ctx, sessionID, first.Data.ID)
	require.True(t, newer.Status)
	require.Len(t, newer.Data, 1)
	require.Equal(t, "two", newer.Data[0].Content)

	require.True(t, s.api.DeleteSession(ctx, sessionID).Status)
	gone := s.api.ListMessages(ctx, sessionID, "")
	require.False(t, gone.Status)
	require.NotEmpty(t, gone.Message)
}

func TestVariablesNeverReturnValues(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	saved := s.api.UpdateVariables(ctx, map[string]string{"OPENAI_API_KEY": "sk-1", "GITHUB_TOKEN": "gh"})
	require.True(t, saved.Status, saved.Message)
	require.Equal(t, []string{"GITHUB_TOKEN", "OPENAI_API_KEY"}, saved.Data)

	listed := s.api.ListVariables(ctx)
	require.Equal(t, saved.Data, listed.Data)
}

func TestSkillsAndAgents(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	skill := s.api.SaveSkill(ctx, api.Skill{Title: "summarize", Content: "def run(): pass"})
	require.True(t, skill.Status, skill.Message)

	exec := s.api.ExecuteSkill(ctx, api.SkillExecution{ID: skill.Data.ID})
	require.False(t, exec.Status)

	require.True(t, s.api.ApproveSkill(ctx, skill.Data.ID).Status)
	got := s.api.GetSkill(ctx, skill.Data.ID)
	require.True(t, got.Data.Approved)

	agent := s.api.SaveAgent(ctx, api.Agent{Name: "writer", Skills: []string{skill.Data.ID}})
	require.True(t, agent.Status, agent.Message)
	require.Equal(t, []string{skill.Data.ID}, s.api.GetAgent(ctx, agent.Data.ID).Data.Skills)

	require.True(t, s.api.DeleteAgent(ctx, agent.Data.ID).Status)
	missing := s.api.GetAgent(ctx, agent.Data.ID)
	require.False(t, missing.Status)
}

func TestSignedOutCallsShortCircuit(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.auth.SignOut()

	out := s.api.ListSkills(ctx)
	require.Equal(t, envelope.ReauthMessage, out.Message)
	require.False(t, out.Status)

	// Version does not need a credential.
	v := s.api.Version(ctx)
	require.True(t, v.Status, v.Message)
	require.Equal(t, devserver.Version, v.Data.Version)
}

func TestExpiredCredentialIsRefreshed(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	before := s.store.Get().AccessToken
	s.store.Set(before, time.Now().Add(-time.Second))

	out := s.api.ListAgents(ctx)
	require.True(t, out.Status, out.Message)
	require.EqualValues(t, 1, s.auth.Refreshes())
	require.True(t, s.store.Get().ExpiresAt.After(time.Now()))
}

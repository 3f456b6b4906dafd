package http

import (
	"bytes"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"testing"

	"github.com/vovakirdan/agencyctl/internal/api"
	"github.com/vovakirdan/agencyctl/internal/envelope"
)

func doJSON(t *testing.T, env *testEnv, method, path, token string, body any) (int, envelope.Raw) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := stdhttp.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out envelope.Raw
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestVersionIsPublic(t *testing.T) {
	env := newTestEnv(t, 0)

	status, out := doJSON(t, env, stdhttp.MethodGet, "/api/v1/version", "", nil)
	if status != 200 || !out.Status {
		t.Fatalf("unexpected response %d %+v", status, out)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	env := newTestEnv(t, 0)

	status, out := doJSON(t, env, stdhttp.MethodGet, "/api/v1/skill/list", "", nil)
	if status != stdhttp.StatusUnauthorized || out.Status || out.Message != "Not authenticated" {
		t.Fatalf("missing header: %d %+v", status, out)
	}

	status, _ = doJSON(t, env, stdhttp.MethodGet, "/api/v1/skill/list", "garbage", nil)
	if status != stdhttp.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", status)
	}
}

func TestSkillLifecycle(t *testing.T) {
	env := newTestEnv(t, 0)
	tok := env.token(t)

	status, out := doJSON(t, env, stdhttp.MethodPut, "/api/v1/skill", tok, api.Skill{Title: "search"})
	if status != 200 || !out.Status {
		t.Fatalf("save skill: %d %+v", status, out)
	}
	var saved api.Skill
	if err := json.Unmarshal(out.Data, &saved); err != nil {
		t.Fatalf("decode skill: %v", err)
	}
	if saved.ID == "" || saved.Version != 1 || saved.Approved {
		t.Fatalf("unexpected saved skill %+v", saved)
	}

	_, out = doJSON(t, env, stdhttp.MethodPost, "/api/v1/skill/execute", tok, api.SkillExecution{ID: saved.ID})
	if out.Status {
		t.Fatalf("unapproved skill executed")
	}

	_, out = doJSON(t, env, stdhttp.MethodPost, "/api/v1/skill/approve?id="+saved.ID, tok, nil)
	if !out.Status {
		t.Fatalf("approve: %+v", out)
	}
	_, out = doJSON(t, env, stdhttp.MethodPost, "/api/v1/skill/execute", tok, api.SkillExecution{ID: saved.ID})
	if !out.Status {
		t.Fatalf("execute: %+v", out)
	}

	_, out = doJSON(t, env, stdhttp.MethodDelete, "/api/v1/skill?id="+saved.ID, tok, nil)
	if !out.Status {
		t.Fatalf("delete: %+v", out)
	}
	status, out = doJSON(t, env, stdhttp.MethodGet, "/api/v1/skill?id="+saved.ID, tok, nil)
	if status != stdhttp.StatusNotFound || out.Status {
		t.Fatalf("get deleted skill: %d %+v", status, out)
	}
}

func TestValidationIsHandledFailure(t *testing.T) {
	env := newTestEnv(t, 0)

	status, out := doJSON(t, env, stdhttp.MethodPut, "/api/v1/agent", env.token(t), api.Agent{})
	if status != 200 || out.Status || out.Message == "" {
		t.Fatalf("expected handled failure, got %d %+v", status, out)
	}
}

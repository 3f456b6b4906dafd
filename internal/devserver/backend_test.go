package devserver

import (
	"errors"
	"testing"

	"github.com/vovakirdan/agencyctl/internal/api"
)

func TestConverseUsesMainAgent(t *testing.T) {
	b := NewBackend()
	agency, err := b.SaveAgency("u1", api.Agency{Name: "Support", MainAgent: "Triage"})
	if err != nil {
		t.Fatalf("save agency: %v", err)
	}
	s, err := b.CreateSession("u1", agency.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	reply, err := b.Converse("u1", s.SessionID, "hi")
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if reply.Sender != "Triage" {
		t.Errorf("sender = %q, want Triage", reply.Sender)
	}
	if reply.Message.Content != "Received: hi" || reply.Message.Role != "assistant" {
		t.Errorf("unexpected reply %+v", reply.Message)
	}

	msgs, err := b.Messages("u1", s.SessionID, "")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	after, _ := b.Messages("u1", s.SessionID, msgs[0].ID)
	if len(after) != 1 || after[0].ID != reply.Message.ID {
		t.Errorf("after cursor returned %+v", after)
	}
}

func TestDeleteAgencyRemovesSessions(t *testing.T) {
	b := NewBackend()
	agency, _ := b.SaveAgency("u1", api.Agency{Name: "Support"})
	s, _ := b.CreateSession("u1", agency.ID)

	if err := b.DeleteAgency("u1", agency.ID); err != nil {
		t.Fatalf("delete agency: %v", err)
	}
	if got := b.Sessions("u1"); len(got) != 0 {
		t.Errorf("sessions left after cascade: %+v", got)
	}
	if _, err := b.Messages("u1", s.SessionID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("messages err = %v, want ErrNotFound", err)
	}
}

func TestSaveSkillRevokesApproval(t *testing.T) {
	b := NewBackend()
	s, _ := b.SaveSkill("u1", api.Skill{Title: "Summarize"})
	if err := b.ApproveSkill("u1", s.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := b.ExecuteSkill("u1", api.SkillExecution{ID: s.ID}); err != nil {
		t.Fatalf("execute approved skill: %v", err)
	}

	s.Content = "changed"
	updated, err := b.SaveSkill("u1", s)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if updated.Version != 2 || updated.Approved {
		t.Errorf("resaved skill = %+v, want version 2 and not approved", updated)
	}
	if _, err := b.ExecuteSkill("u1", api.SkillExecution{ID: s.ID}); !errors.Is(err, ErrNotApproved) {
		t.Errorf("execute err = %v, want ErrNotApproved", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	b := NewBackend()
	agency, _ := b.SaveAgency("u1", api.Agency{Name: "Support"})
	if _, err := b.Agency("u2", agency.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign agency err = %v, want ErrNotFound", err)
	}
	if _, err := b.SaveAgency("u1", api.Agency{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("nameless agency err = %v, want ErrInvalid", err)
	}
}

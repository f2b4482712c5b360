package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/darckarchie/whalix-server/internal/domain"
)

func inbound(waMsgID string) InboundMessage {
	return InboundMessage{
		TenantID:       "t1",
		ConversationID: "c1",
		WaMsgID:        waMsgID,
		FromPhone:      "+225070000001",
		ToPhone:        "+225123456789",
		Body:           "bonjour",
		Intent:         "LOW",
		Topic:          "greeting",
		ReceivedAt:     time.Now().UTC(),
	}
}

func TestCreateInbound_StoresClassification(t *testing.T) {
	db := newTestDB(t)

	m, err := CreateInbound(context.Background(), db, inbound("wa-1"))
	if err != nil {
		t.Fatalf("CreateInbound: %v", err)
	}
	if m.Direction != domain.DirectionInbound || m.Status != domain.MessageWaiting {
		t.Fatalf("unexpected row: %+v", m)
	}
	if m.Intent == nil || *m.Intent != "LOW" || m.Topic == nil || *m.Topic != "greeting" {
		t.Fatalf("classification not stored: %+v", m)
	}
}

func TestCreateInbound_DuplicateWaMsgID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateInbound(ctx, db, inbound("wa-1")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := CreateInbound(ctx, db, inbound("wa-1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("replay err = %v; want ErrDuplicate", err)
	}

	// Same external ID under another tenant is a different message.
	other := inbound("wa-1")
	other.TenantID = "t2"
	if _, err := CreateInbound(ctx, db, other); err != nil {
		t.Fatalf("cross-tenant insert: %v", err)
	}
}

func TestCreateOutbound_AIvsManual(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ai, err := CreateOutbound(ctx, db, "t1", "c1", "+225123456789", "+225070000001", "voici le menu", true, 0.90)
	if err != nil {
		t.Fatalf("CreateOutbound(ai): %v", err)
	}
	if !ai.AIGenerated || ai.AIConfidence == nil || *ai.AIConfidence != 0.90 {
		t.Fatalf("ai reply metadata: %+v", ai)
	}
	if ai.Status != domain.MessageAIReplied {
		t.Fatalf("ai reply status = %q", ai.Status)
	}

	manual, err := CreateOutbound(ctx, db, "t1", "c1", "+225123456789", "+225070000001", "on arrive", false, 0)
	if err != nil {
		t.Fatalf("CreateOutbound(manual): %v", err)
	}
	if manual.AIGenerated || manual.AIConfidence != nil {
		t.Fatalf("manual send should carry no AI metadata: %+v", manual)
	}
	if manual.Status != domain.MessageHumanReplied {
		t.Fatalf("manual send status = %q", manual.Status)
	}
}

func TestMarkReplied(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m, err := CreateInbound(ctx, db, inbound("wa-1"))
	if err != nil {
		t.Fatalf("CreateInbound: %v", err)
	}

	if err := MarkReplied(ctx, db, m.ID); err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}
	got, _ := GetMessage(ctx, db, m.ID)
	if got.Status != domain.MessageAIReplied {
		t.Fatalf("status = %q; want ai_replied", got.Status)
	}

	// Already replied -> no row matches the waiting guard.
	if err := MarkReplied(ctx, db, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkReplied err = %v; want ErrNotFound", err)
	}
}

func TestListMessagesPage_Order(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"wa-1", "wa-2", "wa-3"} {
		in := inbound(id)
		in.ReceivedAt = base.Add(time.Duration(i) * time.Minute)
		if _, err := CreateInbound(ctx, db, in); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	page, err := ListMessagesPage(ctx, db, "c1", 0, 2)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d; want 2", len(page))
	}
	if page[0].WaMsgID != "wa-1" || page[1].WaMsgID != "wa-2" {
		t.Fatalf("order: %q, %q", page[0].WaMsgID, page[1].WaMsgID)
	}

	total, err := CountMessages(ctx, db, "c1")
	if err != nil || total != 3 {
		t.Fatalf("CountMessages = %d, %v; want 3", total, err)
	}
}

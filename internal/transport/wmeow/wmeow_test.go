package wmeow

import (
	"testing"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

func TestParseRecipient(t *testing.T) {
	cases := map[string]struct {
		in       string
		wantUser string
		wantSrv  string
		wantErr  bool
	}{
		"e164":          {in: "+2250102030405", wantUser: "2250102030405", wantSrv: waTypes.DefaultUserServer},
		"bare digits":   {in: "2250102030405", wantUser: "2250102030405", wantSrv: waTypes.DefaultUserServer},
		"padded":        {in: "  +2250102030405 ", wantUser: "2250102030405", wantSrv: waTypes.DefaultUserServer},
		"full jid":      {in: "2250102030405@s.whatsapp.net", wantUser: "2250102030405", wantSrv: "s.whatsapp.net"},
		"malformed jid": {in: "@@", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			jid, err := parseRecipient(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRecipient(%q): %v", tc.in, err)
			}
			if jid.User != tc.wantUser || jid.Server != tc.wantSrv {
				t.Fatalf("jid = %s; want %s@%s", jid, tc.wantUser, tc.wantSrv)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	if got := extractText(nil); got != "" {
		t.Fatalf("nil message: %q", got)
	}
	if got := extractText(&waE2E.Message{}); got != "" {
		t.Fatalf("empty message: %q", got)
	}
	if got := extractText(&waE2E.Message{Conversation: proto.String("bonjour")}); got != "bonjour" {
		t.Fatalf("conversation: %q", got)
	}
	ext := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("c'est combien ?")},
	}
	if got := extractText(ext); got != "c'est combien ?" {
		t.Fatalf("extended text: %q", got)
	}
}

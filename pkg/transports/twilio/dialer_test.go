package twilio

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type stubCallCreator struct {
	lastParams *api.CreateCallParams
	calls      int
	sid        string
	err        error
	failFirst  int
}

func (s *stubCallCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.lastParams = params
	s.calls++
	if s.failFirst >= s.calls {
		return nil, errors.New("transient")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func TestDialRequiresCredentials(t *testing.T) {
	d := NewDialer(Config{})
	if _, err := d.Dial(context.Background(), "+1555", "+1666", ""); err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestDialUsesVoiceWebhookDefault(t *testing.T) {
	stub := &stubCallCreator{sid: "CA42"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "tok", PublicURL: "https://example.com"})
	d.client = stub

	sid, err := d.Dial(context.Background(), "+1555", "+1666", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if sid != "CA42" {
		t.Fatalf("expected CA42, got %s", sid)
	}
	if stub.lastParams == nil || stub.lastParams.Url == nil {
		t.Fatalf("expected url param set")
	}
	if *stub.lastParams.Url != "https://example.com/voice" {
		t.Fatalf("unexpected webhook url %s", *stub.lastParams.Url)
	}
}

func TestDialPropagatesAPIError(t *testing.T) {
	boom := errors.New("rest error")
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "tok"})
	stub := &stubCallCreator{err: boom}
	d.client = stub
	if _, err := d.Dial(context.Background(), "+1555", "+1666", "https://example.com/voice"); !errors.Is(err, boom) {
		t.Fatalf("expected rest error, got %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts with retries, got %d", stub.calls)
	}
}

func TestDialRetriesTransientFailure(t *testing.T) {
	stub := &stubCallCreator{sid: "CA42", failFirst: 1}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "tok"})
	d.client = stub

	sid, err := d.Dial(context.Background(), "+1555", "+1666", "https://example.com/voice")
	if err != nil {
		t.Fatalf("dial after transient failure: %v", err)
	}
	if sid != "CA42" || stub.calls != 2 {
		t.Fatalf("sid=%s calls=%d, want CA42 after 2 attempts", sid, stub.calls)
	}
}

package driver

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFaultKeepsCause(t *testing.T) {
	cause := errors.New("websocket closed")
	err := Fault("click #login", cause)
	if !errors.Is(err, ErrFault) || !errors.Is(err, cause) {
		t.Fatalf("expected fault and cause, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("fault must not read as timeout")
	}
	if Fault("noop", nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}

func TestTimeoutNamesSelector(t *testing.T) {
	err := Timeout("find", "#otp")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), `"#otp"`) {
		t.Fatalf("expected selector in message, got %q", err)
	}
}

func TestChromeDriverRefusesWorkAfterClose(t *testing.T) {
	d := &chromeDriver{closed: true}
	if err := d.run(context.Background(), 0, "open", "https://example.test"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

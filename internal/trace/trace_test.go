package trace

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInit_WritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("trace-test", &buf)
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := StartSpan(context.Background(), "backtest.run")
	if _, _, ok := IDs(ctx); !ok {
		t.Error("span context should be valid with a real provider")
	}
	End(span, errors.New("boom"))

	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "backtest.run") {
		t.Errorf("exported spans missing name: %s", buf.String())
	}
}

func TestInit_NilWriter(t *testing.T) {
	shutdown, err := Init("trace-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

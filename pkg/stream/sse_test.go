package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collectBlocks(t *testing.T, input string) []*Block {
	t.Helper()
	sc := NewScanner(strings.NewReader(input))
	var blocks []*Block
	for {
		b, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return blocks
		}
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		blocks = append(blocks, b)
	}
}

func TestScannerSingleBlock(t *testing.T) {
	blocks := collectBlocks(t, "event: activity\nid: evt-1\ndata: {\"type\":\"task.updated\"}\n\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.Event != "activity" || b.ID != "evt-1" {
		t.Errorf("unexpected block header: event=%q id=%q", b.Event, b.ID)
	}
	if b.Data != `{"type":"task.updated"}` {
		t.Errorf("unexpected data: %q", b.Data)
	}
	if !b.Dispatchable() {
		t.Error("block with data should be dispatchable")
	}
}

func TestScannerMultipleDataLines(t *testing.T) {
	blocks := collectBlocks(t, "data: line one\ndata: line two\n\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Data != "line one\nline two" {
		t.Errorf("data lines not rejoined with newline: %q", blocks[0].Data)
	}
}

func TestScannerSkipsComments(t *testing.T) {
	blocks := collectBlocks(t, ": keepalive\n\n: another\ndata: payload\n\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Data != "payload" {
		t.Errorf("unexpected data: %q", blocks[0].Data)
	}
}

func TestScannerHeaderOnlyBlockNotDispatchable(t *testing.T) {
	blocks := collectBlocks(t, "event: reset\n\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Event != "reset" {
		t.Errorf("expected reset event, got %q", blocks[0].Event)
	}
	if blocks[0].Dispatchable() {
		t.Error("data-less block should not be dispatchable")
	}
}

func TestScannerTrailingUnterminatedBlock(t *testing.T) {
	blocks := collectBlocks(t, "data: first\n\nid: evt-2\ndata: last")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].ID != "evt-2" || blocks[1].Data != "last" {
		t.Errorf("trailing block not returned: %+v", blocks[1])
	}
}

func TestScannerConsecutiveBlankLines(t *testing.T) {
	blocks := collectBlocks(t, "\n\n\ndata: a\n\n\n\ndata: b\n\n")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Data != "a" || blocks[1].Data != "b" {
		t.Errorf("unexpected blocks: %+v, %+v", blocks[0], blocks[1])
	}
}

func TestScannerUnknownFieldsIgnored(t *testing.T) {
	blocks := collectBlocks(t, "retry: 3000\ndata: payload\n\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Data != "payload" {
		t.Errorf("unexpected data: %q", blocks[0].Data)
	}
}

func TestSplitField(t *testing.T) {
	tests := []struct {
		line, field, value string
	}{
		{"data: hello", "data", "hello"},
		{"data:hello", "data", "hello"},
		{"data:  spaced", "data", " spaced"},
		{"data:", "data", ""},
		{"nofield", "nofield", ""},
	}
	for _, tt := range tests {
		field, value := splitField(tt.line)
		if field != tt.field || value != tt.value {
			t.Errorf("splitField(%q) = (%q, %q), want (%q, %q)", tt.line, field, value, tt.field, tt.value)
		}
	}
}

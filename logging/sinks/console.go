package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/Ruskei/BetterHud/logging"
)

// ConsoleSink renders events as one line each:
//
//	WARN  pipeline.evaluation_failed tick=12 player:p1 -> component:status/health {"error":"..."} (+19 repeats)
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{logger: log.New(w, cfg.Prefix, log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	s.logger.Print(FormatLine(event))
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

// FormatLine renders event the way the console sink prints it.
func FormatLine(event logging.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s", strings.ToUpper(event.Severity.String()), event.Type)
	if event.Tick > 0 {
		fmt.Fprintf(&b, " tick=%d", event.Tick)
	}
	if actor := formatEntity(event.Actor); actor != "" {
		b.WriteString(" ")
		b.WriteString(actor)
	}
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, formatEntity(target))
		}
		b.WriteString(" -> ")
		b.WriteString(strings.Join(parts, ","))
	}
	if event.CycleKey != "" {
		fmt.Fprintf(&b, " cycle=%s", shortKey(event.CycleKey))
	}
	if payload := formatPayload(event.Payload); payload != "" {
		b.WriteString(" ")
		b.WriteString(payload)
	}
	b.WriteString(formatExtra(event.Extra))
	return b.String()
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "" && (ref.Kind == "" || ref.Kind == logging.EntityKindUnknown):
		return ""
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

// shortKey trims update event keys to their first uuid group.
func shortKey(key string) string {
	if i := strings.IndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return key
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	var b strings.Builder
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k == "suppressed" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, extra[k])
	}
	if n, ok := extra["suppressed"]; ok {
		fmt.Fprintf(&b, " (+%v repeats)", n)
	}
	return b.String()
}

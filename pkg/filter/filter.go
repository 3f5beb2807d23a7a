// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package filter

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Outcome classifies why a message was accepted or dropped.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeGroupBlocked Outcome = "group_not_allowed"
	OutcomeNoTrigger    Outcome = "no_trigger"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeRateLimited  Outcome = "rate_limited"
)

// Options tunes the filter. Zero values fall back to the defaults below.
type Options struct {
	TriggerPrefix  string
	MentionTrigger bool
	AllowedGroups  []string
	Burst          int           // messages allowed per chat per window
	Window         time.Duration // rate-limit window
	DedupTTL       time.Duration // how long a message id is remembered
}

const (
	defaultBurst    = 3
	defaultWindow   = time.Minute
	defaultDedupTTL = 10 * time.Minute
)

type rateEntry struct {
	count   int
	resetAt time.Time
}

// Filter decides whether an inbound message reaches the forwarder. All state
// is guarded by mu; handlers for different messages call it concurrently.
type Filter struct {
	mu            sync.Mutex
	allowedGroups map[string]struct{}
	seen          map[string]time.Time // chatID:messageID -> first-seen
	rates         map[string]*rateEntry

	prefix         string
	mentionTrigger bool
	burst          int
	window         time.Duration
	dedupTTL       time.Duration
}

func New(opts Options) *Filter {
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}

	f := &Filter{
		allowedGroups:  make(map[string]struct{}),
		seen:           make(map[string]time.Time),
		rates:          make(map[string]*rateEntry),
		prefix:         strings.ToLower(opts.TriggerPrefix),
		mentionTrigger: opts.MentionTrigger,
		burst:          opts.Burst,
		window:         opts.Window,
		dedupTTL:       opts.DedupTTL,
	}
	f.setGroups(opts.AllowedGroups)
	return f
}

// Run sweeps expired dedup and rate-limit entries until ctx-free shutdown via
// the returned stop func. Sweeping bounds memory; ClearCaches remains for
// operators and tests.
func (f *Filter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(f.dedupTTL)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.sweep(time.Now())
		}
	}
}

func (f *Filter) sweep(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-f.dedupTTL)
	for k, t := range f.seen {
		if t.Before(cutoff) {
			delete(f.seen, k)
		}
	}
	for k, e := range f.rates {
		if now.After(e.resetAt) {
			delete(f.rates, k)
		}
	}
}

// ShouldProcess runs the four checks in order: group allow-list, trigger,
// dedup, rate limit. Accepting a message records its id and counts it against
// the chat's rate window as a side effect.
func (f *Filter) ShouldProcess(chatID, rawText string, isGroup bool, messageID, selfID string) (bool, Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if isGroup && len(f.allowedGroups) > 0 {
		if _, ok := f.allowedGroups[chatID]; !ok {
			slog.Info("message ignored", "reason", "group_not_allowed", "chat", chatID)
			return false, OutcomeGroupBlocked
		}
	}

	if !f.isTriggered(rawText, selfID) {
		// Untriggered chatter is expected; not worth a log line.
		return false, OutcomeNoTrigger
	}

	now := time.Now()

	key := chatID + ":" + messageID
	if _, dup := f.seen[key]; dup {
		slog.Debug("message ignored", "reason", "duplicate", "chat", chatID, "message_id", messageID)
		return false, OutcomeDuplicate
	}

	entry, ok := f.rates[chatID]
	if !ok || now.After(entry.resetAt) {
		entry = &rateEntry{resetAt: now.Add(f.window)}
		f.rates[chatID] = entry
	}
	if entry.count >= f.burst {
		slog.Info("message ignored", "reason", "rate_limited", "chat", chatID)
		return false, OutcomeRateLimited
	}

	entry.count++
	f.seen[key] = now
	return true, OutcomeAccepted
}

func (f *Filter) isTriggered(rawText, selfID string) bool {
	text := strings.ToLower(strings.TrimSpace(rawText))
	if f.prefix != "" && strings.HasPrefix(text, f.prefix) {
		return true
	}
	if f.mentionTrigger && selfID != "" {
		return strings.Contains(rawText, mentionToken(selfID))
	}
	return false
}

// CleanMessage strips a leading trigger prefix and/or self-mention token and
// returns the trimmed remainder. Both may be present; both are removed.
func (f *Filter) CleanMessage(rawText, selfID string) string {
	text := strings.TrimSpace(rawText)

	for {
		lower := strings.ToLower(text)
		if f.prefix != "" && strings.HasPrefix(lower, f.prefix) {
			text = strings.TrimSpace(text[len(f.prefix):])
			continue
		}
		if selfID != "" {
			if token := mentionToken(selfID); strings.HasPrefix(text, token) {
				text = strings.TrimSpace(text[len(token):])
				continue
			}
		}
		return text
	}
}

// mentionToken renders a WhatsApp mention of the given JID, e.g.
// "@4479..." for "4479...@s.whatsapp.net".
func mentionToken(selfID string) string {
	user := selfID
	if idx := strings.Index(user, "@"); idx > 0 {
		user = user[:idx]
	}
	if idx := strings.Index(user, ":"); idx > 0 {
		user = user[:idx]
	}
	return "@" + user
}

// UpdateAllowedGroups hot-swaps the allow-list.
func (f *Filter) UpdateAllowedGroups(groups []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setGroups(groups)
	slog.Info("allow-list updated", "groups", len(groups))
}

func (f *Filter) setGroups(groups []string) {
	f.allowedGroups = make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			f.allowedGroups[g] = struct{}{}
		}
	}
}

func (f *Filter) IsGroupAllowed(chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.allowedGroups) == 0 {
		return true
	}
	_, ok := f.allowedGroups[chatID]
	return ok
}

// Stats reports cache sizes for observability.
type Stats struct {
	DedupEntries     int `json:"dedup_entries"`
	RateLimitEntries int `json:"rate_limit_entries"`
	AllowedGroups    int `json:"allowed_groups"`
}

func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		DedupEntries:     len(f.seen),
		RateLimitEntries: len(f.rates),
		AllowedGroups:    len(f.allowedGroups),
	}
}

// ClearCaches resets dedup and rate-limit state.
func (f *Filter) ClearCaches() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]time.Time)
	f.rates = make(map[string]*rateEntry)
}

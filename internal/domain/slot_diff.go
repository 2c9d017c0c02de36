package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SlotSnapshot is the data needed to render one slot of one snapshot as text.
type SlotSnapshot struct {
	SnapshotID int64
	Type       SnapshotType
	CapturedAt time.Time
	Slot       Slot
	Document   Document
}

// NewSlotSnapshot selects one slot from a stored snapshot.
func NewSlotSnapshot(snapshot Snapshot, slot Slot) SlotSnapshot {
	return SlotSnapshot{
		SnapshotID: snapshot.ID,
		Type:       snapshot.Type,
		CapturedAt: snapshot.CreatedAt,
		Slot:       slot,
		Document:   snapshot.Slots.Get(slot).Clone(),
	}
}

// Label identifies the snapshot in diff headers.
func (s SlotSnapshot) Label() string {
	return fmt.Sprintf("snapshot %d (%s)", s.SnapshotID, s.Type)
}

// CanonicalText flattens the slot document into a deterministic set of lines suitable for diffing.
func (s SlotSnapshot) CanonicalText() ([]string, error) {
	lines := []string{
		fmt.Sprintf("Slot: %s", s.Slot),
		fmt.Sprintf("Captured: %s", s.CapturedAt.UTC().Format(time.RFC3339)),
		"Document:",
	}

	if s.Document.IsAbsent() {
		return append(lines, "  (absent)"), nil
	}

	tree, err := s.Document.Map()
	if err != nil {
		return nil, err
	}

	flattened := map[string]string{}
	if err := flattenDocument("", tree, flattened); err != nil {
		return nil, err
	}

	if len(flattened) == 0 {
		return append(lines, "  (empty)"), nil
	}

	keys := make([]string, 0, len(flattened))
	for key := range flattened {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, flattened[key]))
	}

	return lines, nil
}

// DiffSlotSnapshots renders a unified diff of one slot between two snapshots.
func DiffSlotSnapshots(base, target SlotSnapshot) (string, error) {
	baseString, err := canonicalString(base)
	if err != nil {
		return "", err
	}

	targetString, err := canonicalString(target)
	if err != nil {
		return "", err
	}

	return buildUnifiedDiff(base.Label(), target.Label(), baseString, targetString), nil
}

func canonicalString(snapshot SlotSnapshot) (string, error) {
	lines, err := snapshot.CanonicalText()
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func flattenDocument(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			nextPrefix := key
			if prefix != "" {
				nextPrefix = prefix + "." + key
			}
			if err := flattenDocument(nextPrefix, typed[key], acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			nextPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				nextPrefix = fmt.Sprintf("[%d]", idx)
			}
			if err := flattenDocument(nextPrefix, item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("document key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}

	return nil
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel, baseContent, targetContent string) string {
	baseLines := splitLines(baseContent)
	targetLines := splitLines(targetContent)

	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines)))
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

func splitLines(input string) []string {
	lines := strings.Split(input, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add operations.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}

		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}

	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}

	return ops
}

package catalog

import (
	"context"
	"slices"

	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/store"
)

// ReconcileReport lists the ids whose index entries Reconcile changed.
type ReconcileReport struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// Changed reports whether the index was rewritten.
func (r ReconcileReport) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Updated) > 0
}

// Reconcile rebuilds the embeddings collection from identities when the two differ.
func (c *Catalog) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if err := ctx.Err(); err != nil {
		return report, err
	}

	ss := c.st.Lock(Identities, Embeddings)
	defer ss.Unlock()

	idents, err := store.ReadLocked(ss, Identities, map[string]Identity{})
	if err != nil {
		return report, err
	}
	emb, err := store.ReadLocked(ss, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return report, err
	}

	want := make(map[string]IndexEntry, len(idents))
	for id, ident := range idents {
		want[id] = ident.entry()
		got, ok := emb[id]
		switch {
		case !ok:
			report.Added = append(report.Added, id)
		case !sameEntry(got, ident.entry()):
			report.Updated = append(report.Updated, id)
		}
	}
	for id := range emb {
		if _, ok := idents[id]; !ok {
			report.Removed = append(report.Removed, id)
		}
	}
	if !report.Changed() {
		return report, nil
	}

	if err := store.WriteLocked(ss, Embeddings, want); err != nil {
		return ReconcileReport{}, err
	}
	ss.Unlock()

	for _, ids := range [][]string{report.Added, report.Removed, report.Updated} {
		slices.SortFunc(ids, facematch.CompareIDs)
	}
	c.log.Warn("embeddings index reconciled",
		"added", report.Added, "removed", report.Removed, "updated", report.Updated)
	c.changed()
	return report, nil
}

func sameEntry(a, b IndexEntry) bool {
	if a.ID != b.ID || a.DisplayName != b.DisplayName || len(a.Signatures) != len(b.Signatures) {
		return false
	}
	for i := range a.Signatures {
		if !slices.Equal(a.Signatures[i], b.Signatures[i]) {
			return false
		}
	}
	return true
}

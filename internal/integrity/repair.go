package integrity

import (
	"context"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/logger"
)

// repair acts on the findings in rep. The order matters: rows and files
// are removed first, so the variant gaps regenerated afterwards are the
// ones left once broken entries are gone.
func (a *Auditor) repair(ctx context.Context, rep *Report) {
	touched := make(map[int64]bool)

	for _, m := range rep.MissingFiles {
		if _, err := a.ledger.Artwork().Delete(ctx, m.RowID); err != nil {
			rep.failed(ActionRemoveMissingRecord, m.RowID, m.AlbumID, m.Variant, m.Path, err)
			continue
		}
		touched[m.AlbumID] = true
		rep.repaired(ActionRemoveMissingRecord, m.RowID, m.AlbumID, m.Variant, m.Path)
	}

	for _, s := range rep.SizeMismatches {
		if err := a.ledger.Artwork().UpdateFileSize(ctx, s.RowID, s.Actual); err != nil {
			rep.failed(ActionRefreshSize, s.RowID, s.AlbumID, s.Variant, s.Path, err)
			continue
		}
		rep.repaired(ActionRefreshSize, s.RowID, s.AlbumID, s.Variant, s.Path)
	}

	for _, c := range rep.CorruptedFiles {
		if err := a.store.DeletePath(c.Path); err != nil {
			rep.failed(ActionRemoveCorrupt, c.RowID, c.AlbumID, c.Variant, c.Path, err)
			continue
		}
		if _, err := a.ledger.Artwork().Delete(ctx, c.RowID); err != nil {
			rep.failed(ActionRemoveCorrupt, c.RowID, c.AlbumID, c.Variant, c.Path, err)
			continue
		}
		touched[c.AlbumID] = true
		rep.repaired(ActionRemoveCorrupt, c.RowID, c.AlbumID, c.Variant, c.Path)
	}

	for _, o := range rep.OrphanedFiles {
		if err := a.store.DeletePath(o.Path); err != nil {
			rep.failed(ActionRemoveOrphan, 0, 0, o.Variant, o.Path, err)
			continue
		}
		rep.repaired(ActionRemoveOrphan, 0, 0, o.Variant, o.Path)
	}

	a.regenerateGaps(ctx, rep, touched)

	cleared, err := a.ledger.Albums().ClearFlagsWithoutArtwork(ctx)
	if err != nil {
		rep.failed(ActionClearFlag, 0, 0, "", "", err)
	} else if cleared > 0 {
		rep.Repairs = append(rep.Repairs, Repair{Action: ActionClearFlag, Count: int(cleared)})
	}

	for id := range touched {
		a.cache.InvalidateAlbum(id)
	}
	for action, n := range rep.repairCounts() {
		a.metrics.RecordRepair(action, n)
	}
}

// regenerateGaps recomputes variant gaps after the deletions and derives
// missing variants from the stored original where one is left.
func (a *Auditor) regenerateGaps(ctx context.Context, rep *Report, touched map[int64]bool) {
	gaps, err := a.variantGaps(ctx)
	if err != nil {
		rep.failed(ActionRegenerateVariant, 0, 0, "", "", err)
		return
	}
	for _, g := range gaps {
		if !g.CanRebuild() {
			continue
		}
		for _, v := range g.Missing {
			if v == artwork.Original {
				continue
			}
			web, err := a.cache.RegenerateVariant(ctx, g.Album, v)
			if err != nil {
				a.log.Warn("failed to regenerate variant",
					logger.Int64("album_id", g.AlbumID),
					logger.String("variant", v.String()),
					logger.Error(err))
				rep.failed(ActionRegenerateVariant, 0, g.AlbumID, v, "", err)
				continue
			}
			touched[g.AlbumID] = true
			rep.repaired(ActionRegenerateVariant, 0, g.AlbumID, v, web)
		}
	}
}

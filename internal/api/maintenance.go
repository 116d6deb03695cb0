package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

// boolParam parses an optional boolean query parameter.
func boolParam(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Newf("query parameter %s: %q is not a boolean", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return v, nil
}

// busy reports whether another maintenance job holds the lock, writing the
// 409 response when it does. The probe is released at once; the job takes
// the lock itself.
func (s *Server) busy(c echo.Context) (bool, error) {
	if s.locker == nil {
		return false, nil
	}
	unlock, err := s.locker.TryLock()
	if errors.Is(err, filestore.ErrLocked) {
		return true, s.handleError(c, err, "another maintenance job is running", http.StatusConflict)
	}
	if err != nil {
		return true, s.handleError(c, err, "failed to probe maintenance lock", http.StatusInternalServerError)
	}
	unlock()
	return false, nil
}

// runAudit handles POST /api/v1/artwork/audit?repair=bool.
func (s *Server) runAudit(c echo.Context) error {
	repair, err := boolParam(c, "repair")
	if err != nil {
		return s.handleError(c, err, "invalid query", http.StatusBadRequest)
	}
	if busy, err := s.busy(c); busy {
		return err
	}

	rep, err := s.auditor.Verify(c.Request().Context(), repair)
	if err != nil {
		return s.handleError(c, err, "integrity audit failed", statusFor(err))
	}
	if repair {
		s.statCache.Delete(statsCacheKey)
	}
	return c.JSON(http.StatusOK, rep)
}

// runQuickCheck handles GET /api/v1/artwork/quickcheck.
func (s *Server) runQuickCheck(c echo.Context) error {
	rep, err := s.auditor.QuickCheck(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "quick check failed", statusFor(err))
	}
	return c.JSON(http.StatusOK, rep)
}

// runBackfill handles POST /api/v1/artwork/backfill?force=bool&missing_only=bool.
func (s *Server) runBackfill(c echo.Context) error {
	force, err := boolParam(c, "force")
	if err != nil {
		return s.handleError(c, err, "invalid query", http.StatusBadRequest)
	}
	missingOnly, err := boolParam(c, "missing_only")
	if err != nil {
		return s.handleError(c, err, "invalid query", http.StatusBadRequest)
	}
	if busy, err := s.busy(c); busy {
		return err
	}

	ctx := c.Request().Context()
	s.log.Info("backfill requested", logger.Bool("force", force), logger.Bool("missing_only", missingOnly))
	if missingOnly {
		rep, err := s.backfill.ProcessMissingVariants(ctx)
		if err != nil {
			return s.handleError(c, err, "backfill failed", statusFor(err))
		}
		s.statCache.Delete(statsCacheKey)
		return c.JSON(http.StatusOK, rep)
	}
	rep, err := s.backfill.ProcessAll(ctx, force)
	if err != nil {
		return s.handleError(c, err, "backfill failed", statusFor(err))
	}
	s.statCache.Delete(statsCacheKey)
	return c.JSON(http.StatusOK, rep)
}

// runCleanup handles POST /api/v1/artwork/cleanup?dry_run=bool.
func (s *Server) runCleanup(c echo.Context) error {
	dryRun, err := boolParam(c, "dry_run")
	if err != nil {
		return s.handleError(c, err, "invalid query", http.StatusBadRequest)
	}
	if busy, err := s.busy(c); busy {
		return err
	}

	res, err := s.cleaner(dryRun).Run(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "cleanup failed", statusFor(err))
	}
	if !dryRun {
		s.statCache.Delete(statsCacheKey)
	}
	return c.JSON(http.StatusOK, res)
}

// listJobs handles GET /api/v1/maintenance/jobs.
func (s *Server) listJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"jobs": s.jobs.Jobs()})
}

// Package track implements the page-state synchronization controller. It
// owns the registry of open document views and decides when a stored page is
// loaded into a view and when a view's page is persisted to its note.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/pagemark/internal/apperr"
	"github.com/starford/pagemark/internal/frontmatter"
	"github.com/starford/pagemark/internal/history"
	"github.com/starford/pagemark/internal/models"
	"github.com/starford/pagemark/internal/resolver"
)

// Notifier delivers navigation commands and save notifications to viewers.
// Implemented by the SSE broker.
type Notifier interface {
	PublishNavigate(viewID, doc string, page int)
	PublishSaved(doc, note string, page int)
	PublishSyncError(doc, message string)
}

// trackedView is the controller-private state of one open document view.
type trackedView struct {
	id            string
	doc           string
	note          string // "" when the template did not resolve
	page          int    // models.PageUnknown until the viewer reports one
	lastSavedPage int
	forced        bool
	lastWriteAt   time.Time
	openedAt      time.Time
}

// pendingLoad is a navigate command waiting for its view to become ready.
type pendingLoad struct {
	viewID   string
	doc      string
	page     int
	attempts int
}

type openReq struct {
	id    string
	doc   string
	page  int
	reply chan error
}

type viewReq struct {
	id    string
	reply chan error
}

type pageReq struct {
	id   string
	page int
}

type settingsReq struct {
	s     Settings
	reply chan error
}

type loadResult struct {
	viewID string
	doc    string
	page   int
	ok     bool
	err    error
}

type extChange struct {
	note string
	page int
}

// Controller runs the synchronization policy.
//
// Concurrency model follows the broker in internal/sse: a single event loop
// owns all mutable state (view registry, loading markers, in-flight save
// set) and public methods talk to it over channels. Front-matter I/O for
// periodic saves and loads runs in short-lived goroutines that report back
// into the loop; forced saves (close, shutdown, save-now) run inline so
// their outcome is known before the operation returns.
type Controller struct {
	fm           *frontmatter.Store
	hist         history.PositionIndex
	notify       Notifier
	logger       *slog.Logger
	timing       Timing
	settingsPath string

	openCh     chan openReq
	activateCh chan viewReq
	pageCh     chan pageReq
	closeCh    chan viewReq
	saveNowCh  chan viewReq
	retryCh    chan string
	loadDoneCh chan loadResult
	saveDoneCh chan saveResult
	extCh      chan extChange

	settingsGetCh chan chan Settings
	settingsSetCh chan settingsReq
	viewsCh       chan chan []models.View

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type saveResult struct {
	viewID string
	doc    string
	note   string
	page   int
	err    error
}

// NewController creates and starts a controller.
func NewController(fm *frontmatter.Store, hist history.PositionIndex, notify Notifier,
	settings Settings, timing Timing, settingsPath string, logger *slog.Logger) *Controller {

	c := &Controller{
		fm:           fm,
		hist:         hist,
		notify:       notify,
		logger:       logger,
		timing:       timing,
		settingsPath: settingsPath,

		openCh:     make(chan openReq),
		activateCh: make(chan viewReq),
		pageCh:     make(chan pageReq, 64),
		closeCh:    make(chan viewReq),
		saveNowCh:  make(chan viewReq),
		retryCh:    make(chan string, 16),
		loadDoneCh: make(chan loadResult, 16),
		saveDoneCh: make(chan saveResult, 16),
		extCh:      make(chan extChange, 16),

		settingsGetCh: make(chan chan Settings),
		settingsSetCh: make(chan settingsReq),
		viewsCh:       make(chan chan []models.View),

		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go c.run(settings)
	return c
}

func (c *Controller) run(settings Settings) {
	defer close(c.stopped)

	views := make(map[string]*trackedView)
	loading := make(map[string]time.Time)    // doc → deadline; suppresses saves
	reading := make(map[string]struct{})     // doc → front-matter read in flight
	navTarget := make(map[string]int)        // doc → page of the last published navigate
	saving := make(map[string]struct{})      // doc → save in flight
	pending := make(map[string]*pendingLoad) // viewID → waiting navigate

	ticker := time.NewTicker(c.timing.SaveInterval)
	defer ticker.Stop()

	pendingForDoc := func(doc string) bool {
		for _, p := range pending {
			if p.doc == doc {
				return true
			}
		}
		return false
	}

	// startLoad kicks off an asynchronous front-matter read for a view,
	// marking its document as loading. Overlapping loads for the same
	// document are not started.
	startLoad := func(v *trackedView) {
		if !settings.EnableLoading || v.note == "" {
			return
		}
		if _, inFlight := loading[v.doc]; inFlight {
			return
		}
		loading[v.doc] = time.Now().Add(c.timing.LoadTimeout)
		reading[v.doc] = struct{}{}
		go func(viewID, note, doc, key string) {
			page, ok, err := c.fm.ReadPage(note, key)
			select {
			case c.loadDoneCh <- loadResult{viewID: viewID, doc: doc, page: page, ok: ok, err: err}:
			case <-c.stopped:
			}
		}(v.id, v.note, v.doc, settings.FrontmatterKey)
	}

	// tryNavigate completes a load: once the view has reported a page, a
	// navigate command is published when the stored page differs. Views
	// that are not ready yet are retried with backoff, a bounded number
	// of times.
	tryNavigate := func(viewID string, page, attempts int) {
		v, exists := views[viewID]
		if !exists {
			delete(pending, viewID)
			return
		}
		if v.page == models.PageUnknown {
			if attempts >= c.timing.ReadyRetries {
				c.logger.Debug("load: view never became ready",
					slog.String("view", viewID), slog.String("document", v.doc))
				delete(pending, viewID)
				delete(loading, v.doc)
				return
			}
			pending[viewID] = &pendingLoad{viewID: viewID, doc: v.doc, page: page, attempts: attempts + 1}
			time.AfterFunc(c.timing.ReadyBackoff, func() {
				select {
				case c.retryCh <- viewID:
				case <-c.stopped:
				}
			})
			return
		}
		delete(pending, viewID)
		if v.page != page {
			navTarget[v.doc] = page
			c.notify.PublishNavigate(viewID, v.doc, page)
			c.logger.Debug("load: navigate",
				slog.String("view", viewID), slog.String("document", v.doc), slog.Int("page", page))
		} else {
			delete(loading, v.doc)
		}
		// When a navigate was published the loading marker stays until the
		// viewer lands on the target page (or the marker expires), so ticks
		// cannot clobber the note with the pre-navigation page.
	}

	// saveView persists a view's page. Forced saves bypass the throttle
	// window and run inline; periodic saves run in a goroutine and report
	// through saveDoneCh. Returns the save error for inline saves.
	saveView := func(v *trackedView, forced, inline bool, now time.Time) error {
		if v.note == "" || v.page == models.PageUnknown {
			return nil
		}
		if v.page == v.lastSavedPage && !v.forced {
			return nil
		}
		if _, busy := saving[v.doc]; busy {
			return nil
		}
		if _, inLoad := loading[v.doc]; inLoad {
			return nil
		}
		if !forced && now.Sub(v.lastWriteAt) < c.timing.Throttle {
			return nil
		}

		key := settings.FrontmatterKey
		create := settings.CreateNoteIfMissing

		if inline {
			err := c.writeAndRecord(v.id, v.doc, v.note, key, v.page, create)
			c.applySaveResult(views, saving, saveResult{
				viewID: v.id, doc: v.doc, note: v.note, page: v.page, err: err,
			})
			return err
		}

		saving[v.doc] = struct{}{}
		go func(viewID, doc, note string, page int) {
			err := c.writeAndRecord(viewID, doc, note, key, page, create)
			select {
			case c.saveDoneCh <- saveResult{viewID: viewID, doc: doc, note: note, page: page, err: err}:
			case <-c.stopped:
			}
		}(v.id, v.doc, v.note, v.page)
		return nil
	}

	for {
		select {
		case <-c.stopCh:
			// Best-effort forced save of every view before shutdown.
			for _, v := range views {
				if !settings.EnableSaving {
					break
				}
				delete(loading, v.doc)
				if err := saveView(v, true, true, time.Now()); err != nil {
					c.logger.Error("shutdown save failed",
						slog.String("document", v.doc), slog.String("error", err.Error()))
				}
			}
			return

		case req := <-c.openCh:
			if _, exists := views[req.id]; exists {
				req.reply <- apperr.ErrAlreadyExists
				continue
			}
			note, _ := resolver.Resolve(req.doc, settings.NoteTemplate)
			v := &trackedView{
				id:            req.id,
				doc:           req.doc,
				note:          note,
				page:          req.page,
				lastSavedPage: models.PageUnknown,
				openedAt:      time.Now(),
			}
			views[req.id] = v
			startLoad(v)
			req.reply <- nil

		case req := <-c.activateCh:
			v, exists := views[req.id]
			if !exists {
				req.reply <- apperr.ErrNotFound
				continue
			}
			startLoad(v)
			req.reply <- nil

		case req := <-c.pageCh:
			v, exists := views[req.id]
			if !exists || req.page < 0 {
				continue
			}
			v.page = req.page
			// A published navigate settles only when the viewer lands on
			// its target page; stale reports of the pre-navigation page do
			// not release the marker.
			if target, nav := navTarget[v.doc]; nav {
				if req.page == target {
					delete(navTarget, v.doc)
					delete(loading, v.doc)
				}
				continue
			}
			// No navigate outstanding: the marker stays only while the
			// stored page is still being read.
			if _, rd := reading[v.doc]; !rd && !pendingForDoc(v.doc) {
				delete(loading, v.doc)
			}

		case req := <-c.closeCh:
			v, exists := views[req.id]
			if !exists {
				req.reply <- apperr.ErrNotFound
				continue
			}
			delete(pending, req.id)
			if !pendingForDoc(v.doc) {
				delete(loading, v.doc)
				delete(navTarget, v.doc)
			}
			var err error
			if settings.EnableSaving {
				err = saveView(v, true, true, time.Now())
			}
			delete(views, req.id)
			req.reply <- err

		case req := <-c.saveNowCh:
			v, exists := views[req.id]
			if !exists {
				req.reply <- apperr.ErrNotFound
				continue
			}
			if _, inLoad := loading[v.doc]; inLoad {
				req.reply <- fmt.Errorf("load in progress for %s: %w", v.doc, apperr.ErrConflict)
				continue
			}
			if v.note == "" {
				req.reply <- fmt.Errorf("no note resolves for %s: %w", v.doc, apperr.ErrNotFound)
				continue
			}
			if v.page == models.PageUnknown {
				req.reply <- fmt.Errorf("view has no page yet: %w", apperr.ErrConflict)
				continue
			}
			v.forced = true
			req.reply <- saveView(v, true, true, time.Now())

		case viewID := <-c.retryCh:
			p, exists := pending[viewID]
			if !exists {
				continue
			}
			tryNavigate(viewID, p.page, p.attempts)

		case res := <-c.loadDoneCh:
			delete(reading, res.doc)
			if res.err != nil {
				c.logger.Warn("load failed",
					slog.String("document", res.doc), slog.String("error", res.err.Error()))
				c.notify.PublishSyncError(res.doc, "failed to load stored page")
				delete(loading, res.doc)
				continue
			}
			if !res.ok {
				// No stored state; nothing to restore.
				delete(loading, res.doc)
				continue
			}
			tryNavigate(res.viewID, res.page, 0)

		case res := <-c.saveDoneCh:
			c.applySaveResult(views, saving, res)

		case chg := <-c.extCh:
			if !settings.EnableLoading {
				continue
			}
			for _, v := range views {
				if v.note != chg.note || v.page == chg.page {
					continue
				}
				if v.lastSavedPage == chg.page {
					// Our own write coming back through the watcher.
					continue
				}
				if _, busy := saving[v.doc]; busy {
					continue
				}
				// The note is the source of truth: align lastSavedPage and
				// suppress ticks until the viewer follows the navigate, so
				// the stale view page is never written back over the edit.
				v.lastSavedPage = chg.page
				loading[v.doc] = time.Now().Add(c.timing.LoadTimeout)
				navTarget[v.doc] = chg.page
				c.notify.PublishNavigate(v.id, v.doc, chg.page)
			}

		case <-ticker.C:
			now := time.Now()
			for doc, deadline := range loading {
				if now.After(deadline) {
					delete(loading, doc)
					delete(reading, doc)
					delete(navTarget, doc)
					for id, p := range pending {
						if p.doc == doc {
							delete(pending, id)
						}
					}
				}
			}
			if !settings.EnableSaving {
				continue
			}
			for _, v := range views {
				_ = saveView(v, false, false, now)
			}

		case resp := <-c.settingsGetCh:
			resp <- settings

		case req := <-c.settingsSetCh:
			if err := req.s.Validate(); err != nil {
				req.reply <- err
				continue
			}
			settings = req.s
			// The template may have changed; re-resolve every open view.
			for _, v := range views {
				v.note, _ = resolver.Resolve(v.doc, settings.NoteTemplate)
			}
			if err := SaveSettings(c.settingsPath, settings); err != nil {
				c.logger.Error("persist settings failed", slog.String("error", err.Error()))
				req.reply <- err
				continue
			}
			req.reply <- nil

		case resp := <-c.viewsCh:
			out := make([]models.View, 0, len(views))
			for _, v := range views {
				out = append(out, models.View{
					ID:            v.id,
					DocumentPath:  v.doc,
					NotePath:      v.note,
					Page:          v.page,
					LastSavedPage: v.lastSavedPage,
					OpenedAt:      v.openedAt,
				})
			}
			resp <- out
		}
	}
}

// writeAndRecord persists one page to front matter and mirrors it into the
// history index. History failures are logged but do not fail the save — the
// note is the source of truth.
func (c *Controller) writeAndRecord(viewID, doc, note, key string, page int, create bool) error {
	if err := c.fm.WritePage(note, key, page, create); err != nil {
		return err
	}
	if err := c.hist.RecordSave(doc, note, page); err != nil {
		c.logger.Warn("history record failed",
			slog.String("document", doc), slog.String("error", err.Error()))
	}
	return nil
}

// applySaveResult folds a finished save back into loop state.
func (c *Controller) applySaveResult(views map[string]*trackedView, saving map[string]struct{}, res saveResult) {
	delete(saving, res.doc)
	if res.err != nil {
		c.logger.Warn("save failed",
			slog.String("document", res.doc), slog.String("error", res.err.Error()))
		c.notify.PublishSyncError(res.doc, "failed to save page")
		return
	}
	if v, exists := views[res.viewID]; exists {
		v.lastSavedPage = res.page
		v.lastWriteAt = time.Now()
		v.forced = false
	}
	c.notify.PublishSaved(res.doc, res.note, res.page)
	c.logger.Debug("saved page",
		slog.String("document", res.doc), slog.String("note", res.note), slog.Int("page", res.page))
}

var errClosed = errors.New("track: controller closed")

// OpenView registers a document view. page may be models.PageUnknown when
// the viewer has not rendered yet. When loading is enabled the stored page
// is restored into the view.
func (c *Controller) OpenView(id, documentPath string, page int) error {
	if id == "" || documentPath == "" {
		return fmt.Errorf("track: view id and document path are required")
	}
	if page < 0 {
		page = models.PageUnknown
	}
	if c.closed.Load() {
		return errClosed
	}
	req := openReq{id: id, doc: documentPath, page: page, reply: make(chan error, 1)}
	select {
	case c.openCh <- req:
	case <-c.stopped:
		return errClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopped:
		return errClosed
	}
}

// ActivateView re-runs the load policy for an already-open view, e.g. when
// it regains focus.
func (c *Controller) ActivateView(id string) error {
	return c.viewRequest(c.activateCh, id)
}

// ReportPage records the viewer's current page. The first report marks the
// view as ready for navigation.
func (c *Controller) ReportPage(id string, page int) {
	if c.closed.Load() {
		return
	}
	select {
	case c.pageCh <- pageReq{id: id, page: page}:
	case <-c.stopped:
	}
}

// CloseView force-saves and untracks a view. The save bypasses throttling.
func (c *Controller) CloseView(id string) error {
	return c.viewRequest(c.closeCh, id)
}

// SaveNow persists the view's page immediately, bypassing the throttle
// window and the enable_saving toggle, and reports the outcome.
func (c *Controller) SaveNow(id string) error {
	return c.viewRequest(c.saveNowCh, id)
}

// NoteChanged signals an external edit of a note; open views of its
// documents follow the new stored page.
func (c *Controller) NoteChanged(notePath string, page int) {
	if c.closed.Load() {
		return
	}
	select {
	case c.extCh <- extChange{note: notePath, page: page}:
	case <-c.stopped:
	}
}

// Settings returns the current synchronization settings.
func (c *Controller) Settings() Settings {
	resp := make(chan Settings, 1)
	if c.closed.Load() {
		return Settings{}
	}
	select {
	case c.settingsGetCh <- resp:
	case <-c.stopped:
		return Settings{}
	}
	select {
	case s := <-resp:
		return s
	case <-c.stopped:
		return Settings{}
	}
}

// UpdateSettings validates, applies, and persists new settings.
func (c *Controller) UpdateSettings(s Settings) error {
	if c.closed.Load() {
		return errClosed
	}
	req := settingsReq{s: s, reply: make(chan error, 1)}
	select {
	case c.settingsSetCh <- req:
	case <-c.stopped:
		return errClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopped:
		return errClosed
	}
}

// Views returns a snapshot of all tracked views.
func (c *Controller) Views() []models.View {
	resp := make(chan []models.View, 1)
	if c.closed.Load() {
		return nil
	}
	select {
	case c.viewsCh <- resp:
	case <-c.stopped:
		return nil
	}
	select {
	case out := <-resp:
		return out
	case <-c.stopped:
		return nil
	}
}

// Close stops the controller, force-saving every tracked view best-effort.
func (c *Controller) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	<-c.stopped
}

func (c *Controller) viewRequest(ch chan viewReq, id string) error {
	if c.closed.Load() {
		return errClosed
	}
	req := viewReq{id: id, reply: make(chan error, 1)}
	select {
	case ch <- req:
	case <-c.stopped:
		return errClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.stopped:
		return errClosed
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/geoview-microservice/internal/domain"
	"github.com/geoview-microservice/internal/domain/repository"
	"github.com/geoview-microservice/internal/pkg/metrics"
)

// DebouncerState - наблюдаемое состояние QueryDebouncer
type DebouncerState string

// ErrFetchTimeout - запрос не уложился в FetchTimeout
var ErrFetchTimeout = errors.New("record fetch timed out")

const (
	StateIdle       DebouncerState = "idle"
	StateTimerArmed DebouncerState = "timer_armed"
	StateFetching   DebouncerState = "fetching"
)

// ResultHandler получает каждую актуальную загруженную страницу.
// Из него нельзя вызывать Stop того же debouncer.
type ResultHandler func(query domain.RegionQuery, page *domain.RecordPage)

// DebouncerConfig - параметры времени QueryDebouncer. FetchTimeout
// отсчитывается по тому же clock.Clock, что и таймер settle.
type DebouncerConfig struct {
	SettleDuration time.Duration
	FetchTimeout   time.Duration
	PerPage        int
}

// DebouncerSnapshot - копия состояния debouncer на момент вызова
type DebouncerSnapshot struct {
	State      DebouncerState
	Region     domain.RegionKey
	Filters    domain.RecordFilters
	TimerArmed bool
	Issued     int
	LastQuery  *domain.RegionQuery
}

// QueryDebouncer сводит серию изменений области в один запрос за период
// settle и держит не больше одного запроса в полете.
//
// Idle -> TimerArmed при изменении области; каждое следующее изменение
// перезапускает таймер. Когда таймер срабатывает, запрашивается последняя
// область. Если запрос уже идет, срабатывание запоминается и повторный запрос
// уходит сразу после завершения текущего.
type QueryDebouncer struct {
	source   repository.RecordSource
	clock    clock.Clock
	onResult ResultHandler
	logger   *zap.Logger

	settle       time.Duration
	fetchTimeout time.Duration
	perPage      int

	ctx    context.Context
	cancel context.CancelFunc

	// deliverMu держит onResult и Stop взаимоисключающими
	deliverMu sync.Mutex

	mu                 sync.Mutex
	region             domain.RegionKey
	filters            domain.RecordFilters
	timer              *clock.Timer
	timerGen           uint64
	inFlight           bool
	settledDuringFetch bool
	seq                uint64
	issued             int
	lastQuery          *domain.RegionQuery
	stopped            bool
}

// NewQueryDebouncer создает QueryDebouncer. onResult может быть nil.
func NewQueryDebouncer(
	source repository.RecordSource,
	clk clock.Clock,
	cfg DebouncerConfig,
	onResult ResultHandler,
	logger *zap.Logger,
) *QueryDebouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueryDebouncer{
		source:       source,
		clock:        clk,
		onResult:     onResult,
		logger:       logger,
		settle:       cfg.SettleDuration,
		fetchTimeout: cfg.FetchTimeout,
		perPage:      cfg.PerPage,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Dirty запоминает region как последнюю область и перезапускает таймер settle
func (d *QueryDebouncer) Dirty(region domain.RegionKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.region = region
	if d.timer != nil {
		d.timer.Stop()
		metrics.DebounceCoalesced.Inc()
	}
	d.armLocked()
}

// SetFilters заменяет фильтры запросов. Если область уже известна, изменение
// запускает запрос, не дожидаясь нового движения карты.
func (d *QueryDebouncer) SetFilters(filters domain.RecordFilters) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || filters == d.filters {
		return
	}
	d.filters = filters

	if d.region == "" {
		return
	}

	switch {
	case d.timer != nil:
		// сработавший таймер возьмет новые фильтры
	case d.inFlight:
		d.settledDuringFetch = true
	default:
		d.startFetchLocked(d.queryLocked())
	}
}

// Filters возвращает текущие фильтры
func (d *QueryDebouncer) Filters() domain.RecordFilters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters
}

// Stop отменяет таймер и текущий запрос. Если результат уже передается в
// onResult, Stop дожидается окончания; после возврата onResult не вызывается.
func (d *QueryDebouncer) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.cancel()
	}
	d.mu.Unlock()

	d.deliverMu.Lock()
	d.deliverMu.Unlock()
}

// Snapshot возвращает копию текущего состояния
func (d *QueryDebouncer) Snapshot() DebouncerSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := DebouncerSnapshot{
		State:      StateIdle,
		Region:     d.region,
		Filters:    d.filters,
		TimerArmed: d.timer != nil,
		Issued:     d.issued,
	}
	switch {
	case d.inFlight:
		s.State = StateFetching
	case d.timer != nil:
		s.State = StateTimerArmed
	}
	if d.lastQuery != nil {
		q := *d.lastQuery
		s.LastQuery = &q
	}
	return s
}

func (d *QueryDebouncer) armLocked() {
	d.timerGen++
	gen := d.timerGen
	d.timer = d.clock.AfterFunc(d.settle, func() {
		d.onTimer(gen)
	})
}

func (d *QueryDebouncer) onTimer(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// перезапущенный таймер может сработать один раз со старым поколением
	if d.stopped || gen != d.timerGen || d.timer == nil {
		return
	}
	d.timer = nil

	if d.inFlight {
		d.settledDuringFetch = true
		return
	}
	d.startFetchLocked(d.queryLocked())
}

func (d *QueryDebouncer) queryLocked() domain.RegionQuery {
	return domain.RegionQuery{
		Region:  d.region,
		Filters: d.filters,
		PerPage: d.perPage,
	}
}

func (d *QueryDebouncer) startFetchLocked(q domain.RegionQuery) {
	d.inFlight = true
	d.seq++
	d.issued++
	d.lastQuery = &q

	d.logger.Debug("Issuing record fetch",
		zap.Uint64("seq", d.seq),
		zap.String("region", string(q.Region)),
		zap.String("search", q.Filters.Search),
		zap.String("category", q.Filters.Category))

	go d.runFetch(d.seq, q)
}

func (d *QueryDebouncer) runFetch(seq uint64, q domain.RegionQuery) {
	defer d.release(seq, q)

	start := d.clock.Now()
	page, err := d.fetch(q)
	d.deliver(seq, q, page, err, d.clock.Now().Sub(start))
}

func (d *QueryDebouncer) fetch(q domain.RegionQuery) (page *domain.RecordPage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record fetch panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithCancelCause(d.ctx)
	defer cancel(nil)
	if d.fetchTimeout > 0 {
		timeout := d.clock.AfterFunc(d.fetchTimeout, func() {
			cancel(ErrFetchTimeout)
		})
		defer timeout.Stop()
	}

	page, err = d.source.FetchRecords(ctx, q)
	if err != nil && errors.Is(context.Cause(ctx), ErrFetchTimeout) {
		return nil, fmt.Errorf("%w after %s: %v", ErrFetchTimeout, d.fetchTimeout, err)
	}
	if err == nil && page == nil {
		err = errors.New("record source returned no page")
	}
	return page, err
}

func (d *QueryDebouncer) deliver(seq uint64, q domain.RegionQuery, page *domain.RecordPage, err error, elapsed time.Duration) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	current := seq == d.seq && !d.stopped
	d.mu.Unlock()

	switch {
	case !current:
		metrics.ObserveFetch(metrics.OutcomeStale, elapsed)
		d.logger.Debug("Discarding superseded fetch result",
			zap.Uint64("seq", seq),
			zap.String("region", string(q.Region)))
	case err != nil:
		// прежние маркеры остаются на карте, повтор при следующем изменении области или фильтров
		metrics.ObserveFetch(metrics.OutcomeError, elapsed)
		d.logger.Warn("Record fetch failed, keeping previous markers",
			zap.Uint64("seq", seq),
			zap.String("region", string(q.Region)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	default:
		metrics.ObserveFetch(metrics.OutcomeSuccess, elapsed)
		d.handleResult(q, page)
	}
}

func (d *QueryDebouncer) handleResult(q domain.RegionQuery, page *domain.RecordPage) {
	if d.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Result handler panicked",
				zap.String("region", string(q.Region)),
				zap.Any("panic", r))
		}
	}()
	d.onResult(q, page)
}

// release снимает флаг запроса в полете на любом выходе из runFetch
func (d *QueryDebouncer) release(seq uint64, fetched domain.RegionQuery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if seq != d.seq {
		return
	}
	d.inFlight = false

	settled := d.settledDuringFetch
	d.settledDuringFetch = false

	if d.stopped || d.timer != nil || !settled {
		return
	}

	next := d.queryLocked()
	if next == fetched {
		return
	}
	d.startFetchLocked(next)
}

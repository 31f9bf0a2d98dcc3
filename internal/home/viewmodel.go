package home

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

const (
	// DefaultDebounce is how long input must settle before converting.
	DefaultDebounce = 250 * time.Millisecond
	defaultInput    = 1.0
)

// CurrenciesSource publishes the known currencies.
type CurrenciesSource interface {
	Currencies() *stream.StateFlow[[]currency.Currency]
}

// RatesSource publishes rates and converts them on request.
type RatesSource interface {
	CurrencyRates() *stream.StateFlow[[]currency.CurrencyRate]
	ConvertCurrencyRate(ctx context.Context, value float64, targetCode string) error
}

// NetworkMonitor reports connectivity.
type NetworkMonitor interface {
	IsOnline() *stream.StateFlow[bool]
}

// ViewModel holds the converter screen state shared by every client.
type ViewModel struct {
	rates    RatesSource
	debounce time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	input    float64
	inputJob context.CancelFunc
	closed   bool

	selected   *stream.StateFlow[string]
	currencies *stream.StateFlow[CurrenciesViewState]
	converted  *stream.StateFlow[ConversionRatesViewState]
	syncing    *stream.StateFlow[bool]
	online     *stream.StateFlow[bool]
	version    *stream.StateFlow[uint64]
}

// NewViewModel creates a ViewModel. A debounce of zero uses DefaultDebounce.
func NewViewModel(
	syncManager datasync.SyncManager,
	network NetworkMonitor,
	currencies CurrenciesSource,
	rates RatesSource,
	debounce time.Duration,
	logger *zap.Logger,
) *ViewModel {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	vm := &ViewModel{
		rates:      rates,
		debounce:   debounce,
		logger:     logger.Named("home"),
		ctx:        ctx,
		cancel:     cancel,
		input:      defaultInput,
		selected:   stream.NewStateFlow(currency.PivotCurrency),
		currencies: stream.NewStateFlow(CurrenciesViewState{Status: StatusEmpty}),
		converted:  stream.NewStateFlow(ConversionRatesViewState{Status: StatusEmpty}),
		syncing:    stream.NewStateFlow(false),
		online:     stream.NewStateFlow(true),
		version:    stream.NewStateFlow[uint64](0),
	}

	follow(vm, currencies.Currencies(), vm.currencies, currenciesViewState)
	follow(vm, rates.CurrencyRates(), vm.converted, conversionRatesViewState)
	follow(vm, syncManager.IsSyncing(), vm.syncing, identity[bool])
	follow(vm, network.IsOnline(), vm.online, identity[bool])

	return vm
}

func identity[T any](v T) T { return v }

// follow keeps dst equal to fn applied to the latest value of src.
func follow[T, R any](vm *ViewModel, src *stream.StateFlow[T], dst *stream.StateFlow[R], fn func(T) R) {
	values := stream.Map(vm.ctx, src.Subscribe(vm.ctx), fn)
	vm.wg.Add(1)
	go func() {
		defer vm.wg.Done()
		for v := range values {
			dst.Set(v)
			vm.changed()
		}
	}()
}

func (vm *ViewModel) changed() {
	vm.version.Update(func(v uint64) uint64 { return v + 1 })
}

// InputtedValue returns the last parsed input.
func (vm *ViewModel) InputtedValue() float64 {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.input
}

// SelectedCurrencyCode returns the selected currency code.
func (vm *ViewModel) SelectedCurrencyCode() *stream.StateFlow[string] {
	return vm.selected
}

// CurrenciesViewState returns the currency list state.
func (vm *ViewModel) CurrenciesViewState() *stream.StateFlow[CurrenciesViewState] {
	return vm.currencies
}

// ConversionRatesViewState returns the converted rates state.
func (vm *ViewModel) ConversionRatesViewState() *stream.StateFlow[ConversionRatesViewState] {
	return vm.converted
}

// IsSyncing reports whether a background sync is running.
func (vm *ViewModel) IsSyncing() *stream.StateFlow[bool] {
	return vm.syncing
}

// IsOnline reports connectivity.
func (vm *ViewModel) IsOnline() *stream.StateFlow[bool] {
	return vm.online
}

// Changes emits whenever any part of the snapshot may have changed.
func (vm *ViewModel) Changes(ctx context.Context) <-chan uint64 {
	return vm.version.Subscribe(ctx)
}

// Snapshot returns the current screen state.
func (vm *ViewModel) Snapshot() Snapshot {
	return Snapshot{
		Input:      vm.InputtedValue(),
		Selected:   vm.selected.Value(),
		IsSyncing:  vm.syncing.Value(),
		IsOnline:   vm.online.Value(),
		Currencies: vm.currencies.Value(),
		Rates:      vm.converted.Value(),
	}
}

// UpdateSelectedRate selects code and converts the current input into it.
func (vm *ViewModel) UpdateSelectedRate(code string) {
	vm.selected.Set(code)
	vm.changed()
	vm.launch(vm.ctx, func(ctx context.Context) {
		vm.convert(ctx, vm.InputtedValue(), code)
	})
}

// UpdateInput converts text once it has not changed for the debounce
// period. Text that is not a finite number converts as 1.
func (vm *ViewModel) UpdateInput(text string) {
	vm.mu.Lock()
	if vm.inputJob != nil {
		vm.inputJob()
	}
	ctx, cancel := context.WithCancel(vm.ctx)
	vm.inputJob = cancel
	vm.mu.Unlock()

	vm.launch(ctx, func(ctx context.Context) {
		defer cancel()

		timer := time.NewTimer(vm.debounce)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		value := ParseInput(text)
		vm.mu.Lock()
		vm.input = value
		vm.mu.Unlock()
		vm.changed()

		vm.convert(ctx, value, vm.selected.Value())
	})
}

// Close cancels pending work and stops following the repositories.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	vm.closed = true
	vm.mu.Unlock()

	vm.cancel()
	vm.wg.Wait()
}

func (vm *ViewModel) launch(ctx context.Context, fn func(ctx context.Context)) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	vm.wg.Add(1)
	go func() {
		defer vm.wg.Done()
		fn(ctx)
	}()
}

func (vm *ViewModel) convert(ctx context.Context, value float64, code string) {
	err := vm.rates.ConvertCurrencyRate(ctx, value, code)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, currency.ErrNotFound) {
		vm.logger.Debug("selected currency has no rate yet", zap.String("code", code))
		return
	}
	vm.logger.Warn("conversion failed",
		zap.String("code", code),
		zap.Float64("value", value),
		zap.Error(err),
	)
}

// ParseInput parses user-typed amount text, falling back to 1 when it is
// not a finite number.
func ParseInput(text string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return defaultInput
	}
	return v
}

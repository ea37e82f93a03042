package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/infra/wal/entry"
	exitwal "dexmatch/infra/wal/exit"
	"dexmatch/ledger"
	"dexmatch/snapshot"
	"dexmatch/store"
)

const (
	base = int64(1_700_000_000_000)
	day  = int64(24 * 60 * 60 * 1000)
)

var (
	wavesUSD = asset.Pair{AmountAsset: "WAVES", PriceAsset: "USD"}
	btcUSD   = asset.Pair{AmountAsset: "BTC", PriceAsset: "USD"}
)

type harness struct {
	t        *testing.T
	dir      string
	now      atomic.Int64
	orders   int64
	balances *StaticBalances
	ledger   *ledger.Ledger
	store    store.OrderStore
	events   *entry.WAL
	outbox   *exitwal.Outbox
	m        *Matcher
	closed   bool
}

// open starts a matcher over dir, recovering whatever a previous harness
// left there.
func open(t *testing.T, dir string) *harness {
	t.Helper()
	h := build(t, dir)
	require.NoError(t, h.m.Start(context.Background()))
	return h
}

// build wires a matcher over dir without starting it.
func build(t *testing.T, dir string) *harness {
	t.Helper()
	h := &harness{t: t, dir: dir, balances: NewStaticBalances()}
	h.now.Store(base)

	reg, err := asset.NewRegistry(
		map[asset.Asset]uint8{"WAVES": 8, "USD": 2, "BTC": 8},
		[]asset.Pair{wavesUSD, btcUSD},
	)
	require.NoError(t, err)

	h.store = store.NewMemory(0)
	h.ledger = ledger.New(ledger.Config{}, reg, h.store)
	h.events, err = entry.Open(entry.Config{Dir: filepath.Join(dir, "events"), SegmentSize: 4096})
	require.NoError(t, err)
	h.outbox, err = exitwal.Open(filepath.Join(dir, "outbox"), exitwal.Options{})
	require.NoError(t, err)

	h.m, err = New(Config{Clock: h.now.Load}, Deps{
		Registry:  reg,
		Ledger:    h.ledger,
		Store:     h.store,
		Events:    h.events,
		Outbox:    h.outbox,
		Snapshots: &snapshot.Store{Dir: filepath.Join(dir, "snapshots"), Keep: 2},
		Balances:  h.balances,
	})
	require.NoError(t, err)
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	if h.closed {
		return
	}
	h.closed = true
	h.m.Close()
	h.ledger.Close()
	assert.NoError(h.t, h.events.Close())
	assert.NoError(h.t, h.outbox.Close())
	assert.NoError(h.t, h.store.Close())
}

func (h *harness) fund(addr order.Address, a asset.Asset, v int64) {
	h.balances.Set(addr, a, v)
}

// order builds a WAVES-USD order valid for a day. Each call gets its
// own timestamp, so equal parameters still give distinct ids.
func (h *harness) order(sender order.Address, side order.Side, price, amount int64) order.Order {
	return h.orderOn(wavesUSD, sender, side, price, amount)
}

func (h *harness) orderOn(pair asset.Pair, sender order.Address, side order.Side, price, amount int64) order.Order {
	h.orders++
	ts := base - 1_000_000 + h.orders
	return order.New(sender, pair, side, price, amount, 0, "", ts, ts+day)
}

func (h *harness) submit(o order.Order) Result {
	h.t.Helper()
	res, err := h.m.Submit(context.Background(), o)
	require.NoError(h.t, err)
	return res
}

func (h *harness) accept(o order.Order) Result {
	h.t.Helper()
	res := h.submit(o)
	require.True(h.t, res.Accepted, "rejected: %v", res.Reason)
	return res
}

func (h *harness) reserved(addr order.Address) asset.Amounts {
	h.t.Helper()
	r, err := h.m.ReservedBalance(context.Background(), addr)
	require.NoError(h.t, err)
	return r
}

func (h *harness) book(p asset.Pair) []order.LimitOrder {
	h.t.Helper()
	b, err := h.m.Book(context.Background(), p)
	require.NoError(h.t, err)
	return b
}

func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Sync(context.Background()))
}

func TestSubmitRestsAndReserves(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("alice", "USD", 1000)

	res := h.accept(h.order("alice", order.Buy, 230, 200_000_000))
	assert.Empty(t, res.Executions)
	require.NotNil(t, res.Resting)
	assert.Equal(t, int64(200_000_000), res.Resting.Remaining)

	assert.Equal(t, asset.Amounts{"USD": 460}, h.reserved("alice"))
	assert.Len(t, h.book(wavesUSD), 1)
	assert.Empty(t, h.book(btcUSD))
	assert.Equal(t, uint64(1), h.m.Offset())
}

func TestCounterKeepsMinAmount(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("bob", "USD", 1000)
	h.fund("alice", "WAVES", 300_000_000)

	buy := h.accept(h.order("bob", order.Buy, 230, 200_434_783))
	assert.Equal(t, asset.Amounts{"USD": 461}, h.reserved("bob"))

	res := h.accept(h.order("alice", order.Sell, 230, 200_000_000))
	require.Len(t, res.Executions, 1)
	ex := res.Executions[0]
	assert.Equal(t, int64(200_000_000), ex.ExecutedAmount)
	assert.Equal(t, int64(230), ex.ExecutedPrice)
	assert.Equal(t, int64(434_783), ex.CounterRemaining)
	assert.Nil(t, res.Resting)

	b := h.book(wavesUSD)
	require.Len(t, b, 1)
	assert.Equal(t, buy.Resting.ID, b[0].ID)
	assert.Equal(t, int64(434_783), b[0].Remaining)
	assert.Equal(t, order.StatusPartiallyFilled, b[0].Status)

	assert.Equal(t, asset.Amounts{"USD": 1}, h.reserved("bob"))
	assert.Empty(t, h.reserved("alice"))
}

func TestDustRemaindersAreFilled(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("bob", "USD", 1000)
	h.fund("alice", "WAVES", 300_000_000)

	buy := h.accept(h.order("bob", order.Buy, 230, 200_434_782))
	sell := h.accept(h.order("alice", order.Sell, 230, 200_434_782))

	require.Len(t, sell.Executions, 1)
	ex := sell.Executions[0]
	assert.Equal(t, int64(200_000_000), ex.ExecutedAmount)
	assert.Equal(t, int64(434_782), ex.CounterRemaining)
	assert.Equal(t, int64(434_782), ex.SubmittedRemaining)
	assert.Nil(t, sell.Resting)
	assert.Empty(t, h.book(wavesUSD))

	assert.Empty(t, h.reserved("bob"))
	assert.Empty(t, h.reserved("alice"))

	h.sync()
	for _, id := range []order.ID{buy.Resting.ID, sell.Executions[0].Submitted.ID} {
		st, err := h.m.OrderStatus(id)
		require.NoError(t, err)
		assert.Equal(t, order.StatusFilled, st)
	}
}

func TestPriceTimePriority(t *testing.T) {
	h := open(t, t.TempDir())
	for _, a := range []order.Address{"b1", "b2", "b3"} {
		h.fund(a, "USD", 10_000)
	}
	h.fund("seller", "WAVES", 1_000_000_000)

	first := h.accept(h.order("b1", order.Buy, 230, 100_000_000))
	h.accept(h.order("b2", order.Buy, 240, 100_000_000))
	third := h.accept(h.order("b3", order.Buy, 230, 100_000_000))

	res := h.accept(h.order("seller", order.Sell, 200, 250_000_000))
	require.Len(t, res.Executions, 3)
	assert.Equal(t, order.Address("b2"), res.Executions[0].Counter.Sender)
	assert.Equal(t, int64(240), res.Executions[0].ExecutedPrice)
	assert.Equal(t, first.Resting.ID, res.Executions[1].Counter.ID)
	assert.Equal(t, third.Resting.ID, res.Executions[2].Counter.ID)
	assert.Equal(t, int64(50_000_000), res.Executions[2].ExecutedAmount)
	assert.Nil(t, res.Resting)
}

func TestRejections(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("alice", "USD", 500)

	o := h.order("alice", order.Buy, 230, 200_000_000)
	h.accept(o)

	cases := []struct {
		name string
		o    order.Order
		want error
	}{
		{"duplicate", o, ErrDuplicateOrder},
		{"insufficient after reservation", h.order("alice", order.Buy, 230, 20_000_000), ErrInsufficientBalance},
		{"no balance", h.order("carol", order.Sell, 230, 100_000_000), ErrInsufficientBalance},
		{"too small", h.order("alice", order.Buy, 230, 434_782), order.ErrAmountTooSmall},
		{"malformed", h.order("alice", order.Buy, 0, 100_000_000), order.ErrMalformed},
		{
			"unknown pair",
			order.New("alice", asset.Pair{AmountAsset: "ETH", PriceAsset: "USD"}, order.Buy, 1, 1, 0, "", base, base+day),
			asset.ErrUnknownPair,
		},
		{"expired", order.New("alice", wavesUSD, order.Buy, 230, 100_000_000, 0, "", base-day, base-1), order.ErrExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := h.submit(tc.o)
			assert.False(t, res.Accepted)
			assert.True(t, errors.Is(res.Reason, tc.want), "reason %v", res.Reason)
		})
	}

	assert.Equal(t, uint64(1), h.m.Offset(), "rejections commit nothing")
	assert.Equal(t, asset.Amounts{"USD": 460}, h.reserved("alice"))
}

func TestCancel(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("alice", "USD", 1000)
	ctx := context.Background()

	res := h.accept(h.order("alice", order.Buy, 230, 200_000_000))
	id := res.Resting.ID

	err := h.m.Cancel(ctx, "mallory", wavesUSD, id)
	assert.True(t, errors.Is(err, ErrNotOwner))

	require.NoError(t, h.m.Cancel(ctx, "alice", wavesUSD, id))
	assert.Empty(t, h.book(wavesUSD))
	assert.Empty(t, h.reserved("alice"))

	err = h.m.Cancel(ctx, "alice", wavesUSD, id)
	assert.True(t, errors.Is(err, ErrOrderNotFound))

	h.sync()
	st, err := h.m.OrderStatus(id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, st)
}

func TestExpiredCounterIsCancelledDuringMatch(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("bob", "USD", 1000)
	h.fund("alice", "WAVES", 300_000_000)

	short := order.New("bob", wavesUSD, order.Buy, 230, 200_000_000, 0, "", base, base+1000)
	h.accept(short)

	h.now.Store(base + 2000)
	res := h.accept(h.order("alice", order.Sell, 230, 100_000_000))
	assert.Empty(t, res.Executions)
	require.NotNil(t, res.Resting)
	assert.Equal(t, uint64(3), h.m.Offset(), "bob added, alice added, bob cancelled")

	assert.Empty(t, h.reserved("bob"))
	h.sync()
	st, err := h.m.OrderStatus(short.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, st)
}

func TestSettlementsAreQueued(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("bob", "USD", 1000)
	h.fund("alice", "WAVES", 300_000_000)

	h.accept(h.order("bob", order.Buy, 230, 200_434_783))
	h.accept(h.order("alice", order.Sell, 230, 200_000_000))

	var recs []exitwal.Record
	require.NoError(t, h.outbox.ScanPending(func(r exitwal.Record) error {
		recs = append(recs, r)
		return nil
	}))
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(3), recs[0].Seq)

	var s Settlement
	require.NoError(t, json.Unmarshal(recs[0].Payload, &s))
	assert.Equal(t, "WAVES-USD", s.Pair)
	assert.Equal(t, "bob", s.CounterSender)
	assert.Equal(t, "alice", s.SubmittedSender)
	assert.Equal(t, int64(200_000_000), s.Amount)
	assert.Equal(t, int64(230), s.Price)
	assert.Equal(t, uint64(3), s.Offset)
}

func TestOrderHistory(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("alice", "USD", 10_000)
	ctx := context.Background()

	first := h.accept(h.order("alice", order.Buy, 230, 100_000_000))
	second := h.accept(h.order("alice", order.Buy, 231, 100_000_000))
	require.NoError(t, h.m.Cancel(ctx, "alice", wavesUSD, first.Resting.ID))
	h.sync()

	hist, err := h.m.OrderHistory(ctx, "alice", &wavesUSD)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.Resting.ID, hist[0].ID, "active orders come first")
	assert.Equal(t, order.StatusAccepted, hist[0].Info.Status)
	assert.Equal(t, first.Resting.ID, hist[1].ID)
	assert.Equal(t, order.StatusCancelled, hist[1].Info.Status)

	hist, err = h.m.OrderHistory(ctx, "alice", &btcUSD)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestHaltedMatcherRejectsEverything(t *testing.T) {
	h := open(t, t.TempDir())
	h.fund("alice", "USD", 1000)

	_ = h.m.journal.halt(errors.New("disk on fire"))
	_, err := h.m.Submit(context.Background(), h.order("alice", order.Buy, 230, 100_000_000))
	assert.True(t, errors.Is(err, ErrHalted))
	assert.True(t, errors.Is(h.m.Err(), ErrHalted))

	_, err = h.m.Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrHalted))

	select {
	case <-h.m.Halted():
	default:
		t.Fatal("halt must close Halted")
	}
}

func TestLedgerFaultHaltsMatcher(t *testing.T) {
	h := open(t, t.TempDir())
	select {
	case <-h.m.Halted():
		t.Fatal("fresh matcher is halted")
	default:
	}

	// A cancel for an order the ledger never saw drives its reservation
	// negative.
	h.ledger.Apply(h.m.Offset()+1, order.OrderCancelled{
		Order:     order.NewLimitOrder(h.order("alice", order.Buy, 230, 100_000_000)),
		Reason:    order.CancelRequested,
		Timestamp: base,
	})

	select {
	case <-h.m.Halted():
	case <-time.After(2 * time.Second):
		t.Fatal("ledger fault did not halt the matcher")
	}
	assert.True(t, errors.Is(h.m.Err(), ErrHalted))
}

func TestSubmitBeforeStart(t *testing.T) {
	h := open(t, t.TempDir())
	m, err := New(Config{}, Deps{Registry: h.m.registry, Ledger: h.ledger})
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), h.order("alice", order.Buy, 230, 100_000_000))
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestSharedBalanceIsNotOverspentAcrossPairs(t *testing.T) {
	h := open(t, t.TempDir())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		addr := order.Address(fmt.Sprintf("trader-%d", i))
		h.fund(addr, "USD", 1000)
		orders := []order.Order{
			h.orderOn(wavesUSD, addr, order.Buy, 1000, 100_000_000),
			h.orderOn(btcUSD, addr, order.Buy, 1000, 100_000_000),
		}

		results := make([]Result, len(orders))
		var wg sync.WaitGroup
		for j, o := range orders {
			j, o := j, o
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := h.m.Submit(ctx, o)
				assert.NoError(t, err)
				results[j] = res
			}()
		}
		wg.Wait()

		accepted := 0
		for _, res := range results {
			if res.Accepted {
				accepted++
			} else {
				assert.True(t, errors.Is(res.Reason, ErrInsufficientBalance), "got %v", res.Reason)
			}
		}
		assert.Equal(t, 1, accepted, "%s", addr)
		assert.Equal(t, asset.Amounts{"USD": 1000}, h.reserved(addr))
	}
}

func TestConcurrentSubmissionsStayWithinBalances(t *testing.T) {
	h := open(t, t.TempDir())
	ctx := context.Background()

	addrs := []order.Address{"alice", "bob", "carol", "dave", "erin"}
	funds := map[asset.Asset]int64{"USD": 2000, "WAVES": 400_000_000, "BTC": 400_000_000}
	for _, a := range addrs {
		for as, v := range funds {
			h.fund(a, as, v)
		}
	}

	// Orders are built up front; the harness counter is not shared.
	rng := rand.New(rand.NewSource(3))
	var batches [][]order.Order
	for i := 0; i < 8; i++ {
		var batch []order.Order
		for j := 0; j < 40; j++ {
			pair := wavesUSD
			if rng.Intn(2) == 0 {
				pair = btcUSD
			}
			side := order.Buy
			if rng.Intn(2) == 0 {
				side = order.Sell
			}
			addr := addrs[rng.Intn(len(addrs))]
			batch = append(batch, h.orderOn(pair, addr, side, int64(200+rng.Intn(40)), int64(1+rng.Intn(4))*50_000_000))
		}
		batches = append(batches, batch)
	}

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for _, batch := range batches {
		batch := batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, o := range batch {
				res, err := h.m.Submit(ctx, o)
				if !assert.NoError(t, err) {
					return
				}
				if res.Accepted {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.NotZero(t, accepted.Load())
	require.NoError(t, h.m.Err())

	h.sync()
	for _, a := range addrs {
		for as, v := range h.reserved(a) {
			assert.GreaterOrEqual(t, v, int64(0), "%s %s", a, as)
			assert.LessOrEqual(t, v, funds[as], "%s %s", a, as)
		}
	}
}

func TestStartFailsOnDamagedEventLog(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, eventsDir string, last uint64)
		want   error
	}{
		{
			name: "gap",
			damage: func(t *testing.T, eventsDir string, last uint64) {
				w, err := entry.Open(entry.Config{Dir: eventsDir})
				require.NoError(t, err)
				require.NoError(t, w.Append(entry.NewRecord(entry.RecordType(1), last+2, base, []byte{1})))
				require.NoError(t, w.Close())
			},
			want: entry.ErrGap,
		},
		{
			name: "checksum",
			damage: func(t *testing.T, eventsDir string, _ uint64) {
				segs, err := filepath.Glob(filepath.Join(eventsDir, "segment-*.wal"))
				require.NoError(t, err)
				require.NotEmpty(t, segs)
				sort.Strings(segs)
				b, err := os.ReadFile(segs[0])
				require.NoError(t, err)
				b[len(b)-1] ^= 0xFF
				require.NoError(t, os.WriteFile(segs[0], b, 0o644))
			},
			want: entry.ErrCorrupt,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			h := open(t, dir)
			h.fund("alice", "USD", 1000)
			h.accept(h.order("alice", order.Buy, 230, 100_000_000))
			h.accept(h.order("alice", order.Buy, 231, 100_000_000))
			last := h.m.Offset()
			h.close()

			// Reopening moves appends to a fresh segment, so the
			// damaged one is no longer the newest.
			open(t, dir).close()
			tc.damage(t, filepath.Join(dir, "events"), last)

			again := build(t, dir)
			err := again.m.Start(context.Background())
			assert.True(t, errors.Is(err, ErrRecovery), "got %v", err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)

			_, err = again.m.Submit(context.Background(), again.order("alice", order.Buy, 230, 100_000_000))
			assert.True(t, errors.Is(err, ErrNotStarted), "got %v", err)
		})
	}
}

// state is everything recovery must reproduce.
type state struct {
	offset   uint64
	books    map[asset.Pair][]order.LimitOrder
	reserved map[order.Address]asset.Amounts
	statuses map[order.ID]order.Status
}

func (h *harness) capture(addrs []order.Address, ids []order.ID) state {
	h.t.Helper()
	h.sync()
	s := state{
		offset:   h.m.Offset(),
		books:    map[asset.Pair][]order.LimitOrder{},
		reserved: map[order.Address]asset.Amounts{},
		statuses: map[order.ID]order.Status{},
	}
	for _, p := range []asset.Pair{wavesUSD, btcUSD} {
		s.books[p] = h.book(p)
	}
	for _, a := range addrs {
		s.reserved[a] = h.reserved(a)
	}
	for _, id := range ids {
		st, err := h.m.OrderStatus(id)
		require.NoError(h.t, err)
		s.statuses[id] = st
	}
	return s
}

// trade submits n random orders and returns the ids it placed.
func (h *harness) trade(rng *rand.Rand, addrs []order.Address, n int) []order.ID {
	var ids []order.ID
	for i := 0; i < n; i++ {
		side := order.Buy
		if rng.Intn(2) == 0 {
			side = order.Sell
		}
		o := h.order(addrs[rng.Intn(len(addrs))], side, int64(220+rng.Intn(20)), int64(1+rng.Intn(5))*50_000_000)
		res := h.submit(o)
		if res.Accepted {
			ids = append(ids, o.ID)
		}
		if res.Resting != nil && rng.Intn(5) == 0 {
			require.NoError(h.t, h.m.Cancel(context.Background(), o.Sender, wavesUSD, o.ID))
		}
	}
	return ids
}

func fundAll(h *harness, addrs []order.Address) {
	for _, a := range addrs {
		h.fund(a, "USD", 1_000_000)
		h.fund(a, "WAVES", 100_000_000_000)
	}
}

func TestRecoveryReplaysEventLog(t *testing.T) {
	dir := t.TempDir()
	addrs := []order.Address{"alice", "bob", "carol", "dave"}
	rng := rand.New(rand.NewSource(7))

	h := open(t, dir)
	fundAll(h, addrs)
	ids := h.trade(rng, addrs, 80)
	want := h.capture(addrs, ids)
	require.NotZero(t, want.offset)
	h.close()

	again := open(t, dir)
	fundAll(again, addrs)
	assert.Equal(t, want, again.capture(addrs, ids))

	// Recovered ids are still known as duplicates.
	o, err := again.store.Order(ids[0])
	require.NoError(t, err)
	res := again.submit(o)
	assert.True(t, errors.Is(res.Reason, ErrDuplicateOrder))
}

func TestRecoveryFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	addrs := []order.Address{"alice", "bob", "carol"}
	rng := rand.New(rand.NewSource(11))
	ctx := context.Background()

	h := open(t, dir)
	fundAll(h, addrs)
	ids := h.trade(rng, addrs, 60)

	st, err := h.m.SaveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.m.Offset(), st.Offset)
	assert.Len(t, st.Books, 2)

	ids = append(ids, h.trade(rng, addrs, 40)...)
	want := h.capture(addrs, ids)
	h.close()

	again := open(t, dir)
	fundAll(again, addrs)
	assert.Equal(t, want, again.capture(addrs, ids))

	latest, err := (&snapshot.Store{Dir: filepath.Join(dir, "snapshots")}).LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, st.Offset, latest.Offset)
}

func TestSnapshotOfIdleMatcherRecovers(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := open(t, dir)
	h.fund("alice", "USD", 1000)
	res := h.accept(h.order("alice", order.Buy, 230, 200_000_000))
	_, err := h.m.SaveSnapshot(ctx)
	require.NoError(t, err)
	_, err = h.m.SaveSnapshot(ctx)
	require.NoError(t, err)
	h.close()

	again := open(t, dir)
	assert.Equal(t, uint64(1), again.m.Offset())
	assert.Equal(t, asset.Amounts{"USD": 460}, again.reserved("alice"))
	b := again.book(wavesUSD)
	require.Len(t, b, 1)
	assert.Equal(t, res.Resting.ID, b[0].ID)
}

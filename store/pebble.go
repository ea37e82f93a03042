package store

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	lru "github.com/hashicorp/golang-lru"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/infra/codec"
)

/*
Key layout:

	info/<id>                          -> owner + info
	order/<id>                         -> order
	hist/<owner>\x00<invTs><id>        -> (empty)
	phist/<owner>\x00<pair>\x00<invTs><id> -> (empty)

invTs is MaxUint64-timestamp so a forward scan yields newest first.
*/

var (
	prefixInfo  = []byte("info/")
	prefixOrder = []byte("order/")
	prefixHist  = []byte("hist/")
	prefixPHist = []byte("phist/")
)

type PebbleOptions struct {
	// FS overrides the filesystem; vfs.NewMem() in tests.
	FS        vfs.FS
	MaxOrders int
	// CacheSize is the number of order infos kept in the LRU.
	CacheSize int
	Sync      bool
}

// Pebble is a durable OrderStore with an LRU in front of info lookups.
type Pebble struct {
	db        *pebble.DB
	cache     *lru.Cache
	maxOrders int
	wo        *pebble.WriteOptions
}

func OpenPebble(dir string, opts PebbleOptions) (*Pebble, error) {
	if opts.MaxOrders <= 0 {
		opts.MaxOrders = DefaultMaxOrders
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10_000
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open order store %s", dir)
	}
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Pebble{db: db, cache: cache, maxOrders: opts.MaxOrders, wo: wo}, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

// -------------------- reads --------------------

func (p *Pebble) Contains(id order.ID) (bool, error) {
	_, _, err := p.info(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *Pebble) Status(id order.ID) (order.Status, error) {
	_, info, err := p.info(id)
	if errors.Is(err, ErrNotFound) {
		return order.StatusNotFound, nil
	}
	if err != nil {
		return order.StatusNotFound, err
	}
	return info.Status, nil
}

func (p *Pebble) Order(id order.ID) (order.Order, error) {
	val, err := p.get(key(prefixOrder, id[:]))
	if err != nil {
		return order.Order{}, errors.Wrapf(err, "order %s", id)
	}
	return codec.DecodeOrder(val)
}

func (p *Pebble) info(id order.ID) (order.Address, order.Info, error) {
	if v, ok := p.cache.Get(id); ok {
		oi := v.(ownedInfo)
		return oi.owner, oi.info, nil
	}
	val, err := p.get(key(prefixInfo, id[:]))
	if err != nil {
		return "", order.Info{}, err
	}
	owner, info, err := codec.DecodeInfo(val)
	if err != nil {
		return "", order.Info{}, errors.Wrapf(err, "info %s", id)
	}
	p.cache.Add(id, ownedInfo{owner: owner, info: info})
	return owner, info, nil
}

func (p *Pebble) get(k []byte) ([]byte, error) {
	val, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// -------------------- writes --------------------

func (p *Pebble) SaveOrderInfo(id order.ID, owner order.Address, info order.Info) error {
	ok, err := p.Contains(id)
	if err != nil || ok {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()

	if err := b.Set(key(prefixInfo, id[:]), codec.EncodeInfo(owner, info), nil); err != nil {
		return errors.Wrapf(err, "save info %s", id)
	}
	for _, k := range [][]byte{
		histKey(owner, nil, info.Timestamp, id),
		histKey(owner, &info.Pair, info.Timestamp, id),
	} {
		if err := b.Set(k, nil, nil); err != nil {
			return errors.Wrapf(err, "save history %s", id)
		}
	}
	if err := b.Commit(p.wo); err != nil {
		return errors.Wrapf(err, "save info %s", id)
	}
	p.cache.Add(id, ownedInfo{owner: owner, info: info})
	return nil
}

func (p *Pebble) UpdateOrderInfo(id order.ID, info order.Info) error {
	owner, _, err := p.info(id)
	if err != nil {
		return errors.Wrapf(err, "update %s", id)
	}
	if err := p.db.Set(key(prefixInfo, id[:]), codec.EncodeInfo(owner, info), p.wo); err != nil {
		return errors.Wrapf(err, "update %s", id)
	}
	p.cache.Add(id, ownedInfo{owner: owner, info: info})
	return nil
}

func (p *Pebble) SaveOrder(o order.Order) error {
	k := key(prefixOrder, o.ID[:])
	if _, err := p.get(k); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return p.db.Set(k, codec.EncodeOrder(o), p.wo)
}

// -------------------- history --------------------

func (p *Pebble) LoadRemainingOrders(owner order.Address, pair *asset.Pair, active []IDInfo) ([]IDInfo, error) {
	out := make([]IDInfo, 0, len(active))
	out = append(out, active...)
	limit := remainingLimit(p.maxOrders, active)
	if limit == 0 {
		return out, nil
	}

	prefix := histPrefix(owner, pair)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid() && limit > 0; iter.Next() {
		k := iter.Key()
		if len(k) < len(prefix)+8+len(order.ID{}) {
			return nil, errors.Wrapf(codec.ErrCorrupt, "history key %q", k)
		}
		var id order.ID
		copy(id[:], k[len(k)-len(id):])
		if containsID(active, id) {
			continue
		}
		_, info, err := p.info(id)
		if err != nil {
			return nil, err
		}
		out = append(out, IDInfo{ID: id, Info: info})
		limit--
	}
	return out, iter.Error()
}

func key(prefix, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	k = append(k, prefix...)
	return append(k, suffix...)
}

func histPrefix(owner order.Address, pair *asset.Pair) []byte {
	var k []byte
	if pair == nil {
		k = append(k, prefixHist...)
		k = append(k, owner...)
		return append(k, 0)
	}
	k = append(k, prefixPHist...)
	k = append(k, owner...)
	k = append(k, 0)
	k = append(k, pair.String()...)
	return append(k, 0)
}

func histKey(owner order.Address, pair *asset.Pair, ts int64, id order.ID) []byte {
	k := histPrefix(owner, pair)
	k = binary.BigEndian.AppendUint64(k, math.MaxUint64-uint64(ts))
	return append(k, id[:]...)
}

// upperBound is the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ OrderStore = (*Pebble)(nil)

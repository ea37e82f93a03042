// Package grpcserver exposes the matcher over gRPC: the standard health
// service plus the dexmatch.Matcher service, whose messages are JSON
// (see CodecName).
package grpcserver

import (
	"context"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/ledger"
	"dexmatch/service"
	"dexmatch/store"
)

const ServiceName = "dexmatch.Matcher"

// Matcher is what the server needs from *service.Matcher.
type Matcher interface {
	Markets() []asset.Market
	Submit(ctx context.Context, o order.Order) (service.Result, error)
	Cancel(ctx context.Context, sender order.Address, pair asset.Pair, id order.ID) error
	ReservedBalance(ctx context.Context, addr order.Address) (asset.Amounts, error)
	OrderStatus(id order.ID) (order.Status, error)
	OrderHistory(ctx context.Context, addr order.Address, pair *asset.Pair) ([]store.IDInfo, error)
	Book(ctx context.Context, pair asset.Pair) ([]order.LimitOrder, error)
}

type Server struct {
	m       Matcher
	markets map[asset.Pair]asset.Market
	grpc    *grpc.Server
	health  *health.Server
	log     *logrus.Entry
	wg      sync.WaitGroup

	quit     chan struct{}
	stopOnce sync.Once
}

// New registers both services. Health reports NOT_SERVING until
// SetServing(true).
func New(m Matcher, opts ...grpc.ServerOption) *Server {
	s := &Server{
		m:       m,
		markets: make(map[asset.Pair]asset.Market),
		grpc:    grpc.NewServer(opts...),
		health:  health.NewServer(),
		log:     logrus.WithField("component", "grpc"),
		quit:    make(chan struct{}),
	}
	for _, mk := range m.Markets() {
		s.markets[mk.Pair] = mk
	}
	s.grpc.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// NotServingAfter reports NOT_SERVING once halted is closed. Health is
// not restored afterwards.
func (s *Server) NotServingAfter(halted <-chan struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-halted:
			s.log.Warn("matcher halted, reporting not serving")
			s.SetServing(false)
		case <-s.quit:
		}
	}()
}

// Serve accepts connections on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.log.WithField("addr", lis.Addr().String()).Info("serving")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(lis); err != nil {
			s.log.WithError(err).Error("serve stopped")
		}
	}()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.health.Shutdown()
		s.grpc.GracefulStop()
		s.wg.Wait()
	})
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	mk, err := s.market(req.Pair)
	if err != nil {
		return nil, err
	}
	o, err := s.toOrder(mk, req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid order: %v", err)
	}

	res, err := s.m.Submit(ctx, o)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &PlaceOrderResponse{ID: o.ID.String(), Accepted: res.Accepted}
	if !res.Accepted {
		resp.Reason = res.Reason.Error()
		return resp, nil
	}
	for _, e := range res.Executions {
		resp.Executions = append(resp.Executions, Execution{
			Counter: e.Counter.ID.String(),
			Amount:  mk.FormatAmount(e.ExecutedAmount),
			Price:   mk.FormatPrice(e.ExecutedPrice),
		})
	}
	if res.Resting != nil {
		resp.Remaining = mk.FormatAmount(res.Resting.Remaining)
		resp.Status = res.Resting.Status.String()
	} else {
		resp.Remaining = mk.FormatAmount(0)
		resp.Status = order.StatusFilled.String()
	}

	s.log.WithFields(logrus.Fields{
		"order":      resp.ID,
		"pair":       req.Pair,
		"side":       req.Side,
		"executions": len(resp.Executions),
	}).Debug("order placed")
	return resp, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	mk, err := s.market(req.Pair)
	if err != nil {
		return nil, err
	}
	id, err := order.ParseID(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.m.Cancel(ctx, order.Address(req.Sender), mk.Pair, id); err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{}, nil
}

// -------------------- Queries --------------------

func (s *Server) ReservedBalance(ctx context.Context, req *ReservedBalanceRequest) (*ReservedBalanceResponse, error) {
	r, err := s.m.ReservedBalance(ctx, order.Address(req.Address))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ReservedBalanceResponse{Reserved: make(map[string]int64, len(r))}
	for a, v := range r {
		resp.Reserved[string(a)] = v
	}
	return resp, nil
}

func (s *Server) OrderStatus(_ context.Context, req *OrderStatusRequest) (*OrderStatusResponse, error) {
	id, err := order.ParseID(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	st, err := s.m.OrderStatus(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderStatusResponse{Status: st.String()}, nil
}

func (s *Server) OrderHistory(ctx context.Context, req *OrderHistoryRequest) (*OrderHistoryResponse, error) {
	var pair *asset.Pair
	if req.Pair != "" {
		mk, err := s.market(req.Pair)
		if err != nil {
			return nil, err
		}
		pair = &mk.Pair
	}
	list, err := s.m.OrderHistory(ctx, order.Address(req.Address), pair)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &OrderHistoryResponse{Orders: make([]OrderView, 0, len(list))}
	for _, e := range list {
		resp.Orders = append(resp.Orders, s.view(e.ID, e.Info))
	}
	return resp, nil
}

func (s *Server) OrderBook(ctx context.Context, req *OrderBookRequest) (*OrderBookResponse, error) {
	mk, err := s.market(req.Pair)
	if err != nil {
		return nil, err
	}
	orders, err := s.m.Book(ctx, mk.Pair)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &OrderBookResponse{Bids: []OrderView{}, Asks: []OrderView{}}
	for _, lo := range orders {
		v := s.view(lo.ID, order.InfoOf(lo))
		if lo.Side == order.Buy {
			resp.Bids = append(resp.Bids, v)
		} else {
			resp.Asks = append(resp.Asks, v)
		}
	}
	return resp, nil
}

// -------------------- Converters --------------------

func (s *Server) market(name string) (asset.Market, error) {
	p, err := asset.ParsePair(name)
	if err != nil {
		return asset.Market{}, status.Error(codes.InvalidArgument, err.Error())
	}
	mk, ok := s.markets[p]
	if !ok {
		return asset.Market{}, status.Errorf(codes.NotFound, "unknown pair %s", p)
	}
	return mk, nil
}

func (s *Server) toOrder(mk asset.Market, req *PlaceOrderRequest) (order.Order, error) {
	side, err := order.ParseSide(req.Side)
	if err != nil {
		return order.Order{}, err
	}
	price, err := mk.ParsePrice(req.Price)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "price")
	}
	amount, err := mk.ParseAmount(req.Amount)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "amount")
	}
	return order.New(
		order.Address(req.Sender), mk.Pair, side,
		price, amount,
		req.Fee, asset.Asset(req.FeeAsset),
		req.Timestamp, req.Expiration,
	), nil
}

func (s *Server) view(id order.ID, info order.Info) OrderView {
	mk, ok := s.markets[info.Pair]
	if !ok {
		mk = asset.Market{Pair: info.Pair}
	}
	return OrderView{
		ID:        id.String(),
		Pair:      info.Pair.String(),
		Side:      info.Side.String(),
		Price:     mk.FormatPrice(info.Price),
		Amount:    mk.FormatAmount(info.Amount),
		Filled:    mk.FormatAmount(info.Filled),
		Timestamp: info.Timestamp,
		Status:    info.Status.String(),
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, asset.ErrUnknownPair):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, service.ErrNotStarted):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, service.ErrHalted):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

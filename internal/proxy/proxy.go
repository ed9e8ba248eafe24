// Package proxy implements the coordinator facade (C10, §4.10): the one
// component that owns the scanner (C5), batcher (C4), connection pool (C7),
// GATT broker (C8) and subscription registry (C9), and the adapter handle.
// It is the single writer of the pool map and the subscription registry
// (§5 R1/R3), exposing one surface — Config.OnMessage, wired as every
// session's message handler — to C2. The facade-owns-subsystems shape
// follows the teacher's Bridge, which likewise owned a TTY side, a BLE
// side, and a transformation engine behind one Start/Stop lifecycle.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleproxy/internal/adapter"
	"github.com/srg/bleproxy/internal/batch"
	"github.com/srg/bleproxy/internal/cache"
	"github.com/srg/bleproxy/internal/conn"
	"github.com/srg/bleproxy/internal/gatt"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/pool"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/session"
	"github.com/srg/bleproxy/internal/subscriptions"
	"github.com/srg/bleproxy/internal/wireproto"
)

// Config collects everything the coordinator needs to wire C4–C9 together
// and answer control-session requests.
type Config struct {
	Adapter adapter.Adapter

	ServerName   string
	FriendlyName string
	Password     string

	// LocalAddress is the host radio's own MAC address reported in
	// DeviceInfoResp (§6.2). Zero means "ask the adapter" — on the first
	// DeviceInfoReq, resolveLocalAddress falls back to Adapter.LocalAddress
	// and, if that's unsupported too, reports an empty string rather than
	// failing DeviceInfoReq.
	LocalAddress uint64

	// DisableActiveConnections turns off GATT connect/pair/read/write
	// support entirely: BleDeviceReqConnect is refused outright and
	// FeatureActiveConnections is never advertised, leaving the proxy in
	// an advertisement-forwarding-only mode. Zero value (false) preserves
	// the historical always-on behavior.
	DisableActiveConnections bool

	MaxConnections    int
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	GattOpTimeout     time.Duration

	BatchMax      int
	FlushInterval time.Duration

	Filter scanner.Filter

	// CacheDir enables the persisted service-tree/bonding cache (§6.4)
	// when non-empty. Left empty, every GattGetServicesReq round-trips
	// the adapter and Pair/Unpair never touch disk.
	CacheDir    string
	CacheExpiry time.Duration

	Logger *logrus.Logger
}

// Coordinator is the C10 facade. Construct with New, start its background
// tasks with Run, and use SessionFactory to hand server.New a per-socket
// session.Config.
type Coordinator struct {
	cfg Config

	scanner *scanner.Scanner
	batcher *batch.Batcher
	pool    *pool.Pool
	broker  *gatt.Broker
	subs    *subscriptions.Registry
	cache   *cache.Store

	adsCh chan wireproto.Ad

	mu       sync.Mutex
	sessions map[ids.SessionID]*session.Session
	adActive map[ids.SessionID]bool
	svcAccum map[uint64][]wireproto.Service

	logger *logrus.Logger

	macOnce sync.Once
	mac     string
}

// New builds a Coordinator. It does not start any background task; call
// Run for that.
func New(cfg Config) *Coordinator {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 3
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = batch.DefaultMax
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = batch.DefaultFlushInterval
	}

	c := &Coordinator{
		cfg:      cfg,
		subs:     subscriptions.New(),
		adsCh:    make(chan wireproto.Ad, 256),
		sessions: make(map[ids.SessionID]*session.Session),
		adActive: make(map[ids.SessionID]bool),
		svcAccum: make(map[uint64][]wireproto.Service),
		logger:   cfg.Logger,
	}
	if cfg.CacheDir != "" {
		c.cache = cache.New(cfg.CacheDir, cfg.CacheExpiry)
	}

	c.pool = pool.New(cfg.MaxConnections, cfg.Adapter, cfg.ConnectTimeout, cfg.DisconnectTimeout,
		c.onStateChange, c.onNotify, cfg.Logger)
	c.broker = gatt.New(c.pool, c.subs, c.deliver, cfg.Logger)
	c.batcher = batch.New(cfg.BatchMax, cfg.FlushInterval, c.onBatchFlush)
	c.scanner = scanner.New(cfg.Adapter, c.onAd, c.onScannerMode, cfg.Logger)
	c.scanner.SetFilter(cfg.Filter)

	return c
}

// Run starts the batcher's drain loop. Call once, with the daemon's
// lifetime context.
func (c *Coordinator) Run(ctx context.Context) {
	groutine.Go(ctx, "ads-batcher", func(ctx context.Context) {
		c.batcher.Run(ctx, c.adsCh)
	})
}

// SessionFactory returns a server.SessionFactory wiring every accepted
// socket's session.Config to this coordinator.
func (c *Coordinator) SessionFactory() func(id ids.SessionID) session.Config {
	return func(ids.SessionID) session.Config {
		return session.Config{
			Password:         c.cfg.Password,
			ServerName:       c.cfg.ServerName,
			ServerInfo:       fmt.Sprintf("%s native api", c.cfg.ServerName),
			OnMessage:        c.handleMessage,
			OnStreamOverflow: c.handleStreamOverflow,
			OnClose:          c.handleClose,
			Logger:           c.logger,
		}
	}
}

func (c *Coordinator) registerSession(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sess.ID()] = sess
}

func (c *Coordinator) deliver(id ids.SessionID, msg wireproto.Message) {
	c.observeForCache(msg)

	c.mu.Lock()
	sess, ok := c.sessions[id]
	c.mu.Unlock()
	if ok {
		sess.Send(msg)
	}
}

// observeForCache watches the broker's responses as they pass through,
// accumulating a discovered service tree and persisting it once
// GattGetServicesDone closes it out (§6.4). This rides on the existing
// response path rather than threading a second result channel through
// gatt.Broker.
func (c *Coordinator) observeForCache(msg wireproto.Message) {
	if c.cache == nil {
		return
	}
	switch m := msg.(type) {
	case *wireproto.GattGetServicesResp:
		c.mu.Lock()
		c.svcAccum[m.Address] = append(c.svcAccum[m.Address], m.Service)
		c.mu.Unlock()
	case *wireproto.GattGetServicesDone:
		c.mu.Lock()
		services := c.svcAccum[m.Address]
		delete(c.svcAccum, m.Address)
		c.mu.Unlock()
		if len(services) > 0 {
			if err := c.cache.SaveServices(m.Address, services); err != nil && c.logger != nil {
				c.logger.WithError(err).Warn("cache: failed to persist discovered services")
			}
		}
	}
}

func (c *Coordinator) deliverToAddressSubscribers(address uint64, msg wireproto.Message) {
	for _, id := range c.subs.AddressSubscribers(address) {
		c.deliver(id, msg)
	}
}

// handleClose runs once a session closes: its subscriptions are purged
// from all three registry dimensions (§4.9) and it is dropped from the
// live-session map. BLE connections and other sessions' subscriptions are
// unaffected — they are independent of any one control socket.
func (c *Coordinator) handleClose(sess *session.Session, reason error) {
	c.subs.RemoveSession(sess.ID())

	c.mu.Lock()
	delete(c.sessions, sess.ID())
	delete(c.adActive, sess.ID())
	c.mu.Unlock()

	c.updateScannerSubscription(context.Background())

	if c.logger != nil {
		c.logger.WithField("session", string(sess.ID())).WithError(reason).Debug("session removed from coordinator")
	}
}

// handleStreamOverflow implements §4.2's overflow policy: drop the
// session's ads/notify streams (leaving its scanner-state subscription
// intact) and let it learn via a ScannerStateResp that its streams lapsed.
func (c *Coordinator) handleStreamOverflow(sess *session.Session) {
	c.subs.RemoveStreams(sess.ID())
	c.mu.Lock()
	delete(c.adActive, sess.ID())
	c.mu.Unlock()
	c.updateScannerSubscription(context.Background())
	sess.Send(&wireproto.ScannerStateResp{Mode: c.scanner.Mode()})
	if c.logger != nil {
		c.logger.WithField("session", string(sess.ID())).Warn("outbox overflow dropped subscription streams")
	}
}

func (c *Coordinator) onAd(ad wireproto.Ad) {
	select {
	case c.adsCh <- ad:
	default:
		if c.logger != nil {
			c.logger.Warn("advertisement dropped: batcher input full")
		}
	}
}

func (c *Coordinator) onBatchFlush(batch []wireproto.Ad) {
	msg := &wireproto.BleRawAdsResp{Advertisements: batch}
	for _, sub := range c.subs.AdsSubscribers() {
		c.deliver(sub.Session, msg)
	}
}

func (c *Coordinator) onScannerMode(mode wireproto.ScannerMode) {
	msg := &wireproto.ScannerStateResp{Mode: mode}
	for _, id := range c.subs.ScannerStateSubscribers() {
		c.deliver(id, msg)
	}
}

func (c *Coordinator) onStateChange(sc conn.StateChange) {
	c.deliverToAddressSubscribers(sc.Address, &wireproto.BleDeviceConnResp{
		Address: sc.Address, Connected: sc.Connected, MTU: sc.MTU, Error: sc.Error,
	})
}

func (c *Coordinator) onNotify(ev conn.NotifyEvent) {
	c.broker.OnNotify(ev)
}

// updateScannerSubscription starts the scanner on the first advertisement
// subscriber and stops it on the last, with the active mode following the
// union of subscriber preferences (active wins) — §4.10.
func (c *Coordinator) updateScannerSubscription(ctx context.Context) {
	subs := c.subs.AdsSubscribers()
	if len(subs) == 0 {
		_ = c.scanner.Stop(ctx)
		return
	}

	active := false
	for _, s := range subs {
		if s.Flags&wireproto.AdsFlagActiveScan != 0 {
			active = true
			break
		}
	}
	_ = c.scanner.Start(ctx, active)
}

func (c *Coordinator) featureFlags() uint32 {
	flags := wireproto.FeaturePassiveScan | wireproto.FeatureRawAds | wireproto.FeatureStateAndMode
	if !c.cfg.DisableActiveConnections && c.cfg.MaxConnections > 0 {
		flags |= wireproto.FeatureActiveConnections
	}
	flags |= wireproto.FeatureRemoteCaching | wireproto.FeaturePairing | wireproto.FeatureCacheClearing
	return flags
}

// resolveLocalAddress answers DeviceInfoResp.BluetoothMacAddress. It
// prefers the configured address, falls back to asking the adapter once
// (memoized: a host stack that doesn't support the query isn't asked
// again on every DeviceInfoReq), and reports an empty string if neither
// source has one.
func (c *Coordinator) resolveLocalAddress() string {
	c.macOnce.Do(func() {
		if c.cfg.LocalAddress != 0 {
			c.mac = adapter.FormatAddress(c.cfg.LocalAddress)
			return
		}
		if c.cfg.Adapter == nil {
			return
		}
		addr, err := c.cfg.Adapter.LocalAddress(context.Background())
		if err != nil {
			if c.logger != nil {
				c.logger.WithError(err).Debug("proxy: adapter has no local MAC address to report")
			}
			return
		}
		c.mac = adapter.FormatAddress(addr)
	})
	return c.mac
}

// handleMessage is wired as every session's Config.OnMessage: it is called
// for anything Dispatch doesn't handle as built-in handshake mechanics
// (GATT ops, entity listing, subscriptions, device info, connection
// requests).
func (c *Coordinator) handleMessage(sess *session.Session, msg wireproto.Message) {
	c.registerSession(sess)

	switch m := msg.(type) {
	case *wireproto.DeviceInfoReq:
		sess.Send(&wireproto.DeviceInfoResp{
			Name:                       c.cfg.ServerName,
			FriendlyName:               c.cfg.FriendlyName,
			BluetoothProxyFeatureFlags: c.featureFlags(),
			BluetoothMacAddress:        c.resolveLocalAddress(),
		})

	case *wireproto.ListEntitiesReq:
		sess.Send(&wireproto.ListEntitiesDone{})

	case *wireproto.SubscribeBleAdsReq:
		c.subs.SubscribeAds(sess.ID(), m.Flags)
		c.mu.Lock()
		c.adActive[sess.ID()] = m.Flags&wireproto.AdsFlagActiveScan != 0
		c.mu.Unlock()
		c.updateScannerSubscription(context.Background())

	case *wireproto.UnsubscribeBleAdsReq:
		c.subs.UnsubscribeAds(sess.ID())
		c.mu.Lock()
		delete(c.adActive, sess.ID())
		c.mu.Unlock()
		c.updateScannerSubscription(context.Background())

	case *wireproto.SubscribeScannerStateReq:
		c.subs.SubscribeScannerState(sess.ID())
		sess.Send(&wireproto.ScannerStateResp{Mode: c.scanner.Mode()})

	case *wireproto.BleDeviceReq:
		c.handleBleDeviceReq(sess, m)

	case *wireproto.GattGetServicesReq:
		if c.cache != nil {
			if entry, ok, err := c.cache.LoadServices(m.Address); err == nil && ok {
				for _, svc := range entry.Services {
					sess.Send(&wireproto.GattGetServicesResp{Address: m.Address, Service: svc})
				}
				sess.Send(&wireproto.GattGetServicesDone{Address: m.Address})
				return
			}
		}
		c.broker.DiscoverServices(context.Background(), sess.ID(), m.Address, c.cfg.GattOpTimeout)

	case *wireproto.GattReadReq:
		c.broker.ReadCharacteristic(context.Background(), sess.ID(), m.Address, m.Handle, c.cfg.GattOpTimeout)

	case *wireproto.GattWriteReq:
		c.broker.WriteCharacteristic(context.Background(), sess.ID(), m.Address, m.Handle, m.Data, m.WithResponse, c.cfg.GattOpTimeout)

	case *wireproto.GattReadDescReq:
		c.broker.ReadDescriptor(context.Background(), sess.ID(), m.Address, m.Handle, c.cfg.GattOpTimeout)

	case *wireproto.GattWriteDescReq:
		c.broker.WriteDescriptor(context.Background(), sess.ID(), m.Address, m.Handle, m.Data, c.cfg.GattOpTimeout)

	case *wireproto.GattNotifyReq:
		if m.Enable {
			c.broker.SubscribeNotify(context.Background(), sess.ID(), m.Address, m.Handle, c.cfg.GattOpTimeout)
		} else {
			c.broker.UnsubscribeNotify(context.Background(), sess.ID(), m.Address, m.Handle, c.cfg.GattOpTimeout)
		}

	default:
		if c.logger != nil {
			c.logger.WithField("type", fmt.Sprintf("%T", msg)).Warn("coordinator: unhandled message type")
		}
	}
}

func (c *Coordinator) handleBleDeviceReq(sess *session.Session, m *wireproto.BleDeviceReq) {
	id := sess.ID()
	address := m.Address

	switch m.Kind {
	case wireproto.BleDeviceReqConnect:
		if c.cfg.DisableActiveConnections {
			c.deliver(id, &wireproto.BleDeviceConnResp{Address: address, Error: adapter.CodeUnsupported})
			return
		}
		c.subs.SubscribeAddress(id, address)
		_, existed := c.pool.Get(address)
		groutine.Go(context.Background(), "ble-connect", func(ctx context.Context) {
			connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			defer cancel()
			cn, err := c.pool.Acquire(connectCtx, address, m.AddressType)
			if err != nil {
				c.deliver(id, &wireproto.BleDeviceConnResp{Address: address, Error: adapter.Code(err)})
				return
			}
			if existed {
				// No new Conn.Connect() ran, so the pool-wide state-change
				// fan-out never fired for this request: report the
				// connection's current status directly.
				c.deliver(id, &wireproto.BleDeviceConnResp{
					Address:   address,
					Connected: cn.State() == conn.StateConnected,
					MTU:       cn.MTU(),
				})
			}
		})

	case wireproto.BleDeviceReqDisconnect:
		groutine.Go(context.Background(), "ble-disconnect", func(ctx context.Context) {
			disconnectCtx, cancel := context.WithTimeout(ctx, c.cfg.DisconnectTimeout)
			defer cancel()
			err := c.pool.Release(disconnectCtx, address)
			// Conn.Disconnect never emits a state-change event (§4.6);
			// the coordinator broadcasts the outcome itself.
			c.deliverToAddressSubscribers(address, &wireproto.BleDeviceConnResp{
				Address: address, Connected: false, Error: adapter.Code(err),
			})
		})

	case wireproto.BleDeviceReqPair:
		groutine.Go(context.Background(), "ble-pair", func(ctx context.Context) {
			cn, ok := c.pool.Get(address)
			if !ok {
				c.deliver(id, &wireproto.BleDeviceConnResp{Address: address, Error: adapter.CodeNotConnected})
				return
			}
			err := c.cfg.Adapter.Pair(ctx, cn.Handle())
			if err == nil && c.cache != nil {
				// The adapter contract (§9) doesn't expose the pairing
				// stack's own bond blob, so this records the fact of a
				// successful bond; a concrete adapter that has one can
				// extend Pair to return it.
				if cerr := c.cache.SaveBond(address, nil); cerr != nil && c.logger != nil {
					c.logger.WithError(cerr).Warn("cache: failed to persist bonding record")
				}
			}
			c.deliver(id, &wireproto.BleDeviceConnResp{
				Address: address, Connected: cn.State() == conn.StateConnected, Error: adapter.Code(err),
			})
		})

	case wireproto.BleDeviceReqUnpair:
		groutine.Go(context.Background(), "ble-unpair", func(ctx context.Context) {
			err := c.cfg.Adapter.Unpair(ctx, address)
			if err == nil && c.cache != nil {
				if cerr := c.cache.ClearBond(address); cerr != nil && c.logger != nil {
					c.logger.WithError(cerr).Warn("cache: failed to clear bonding record")
				}
			}
			c.deliver(id, &wireproto.BleDeviceConnResp{Address: address, Error: adapter.Code(err)})
		})

	case wireproto.BleDeviceReqClearCache:
		groutine.Go(context.Background(), "ble-clear-cache", func(ctx context.Context) {
			err := c.cfg.Adapter.ClearGattCache(ctx, address)
			if err == nil && c.cache != nil {
				if cerr := c.cache.ClearServices(address); cerr != nil && c.logger != nil {
					c.logger.WithError(cerr).Warn("cache: failed to clear service-tree entry")
				}
			}
			c.deliver(id, &wireproto.BleDeviceConnResp{Address: address, Error: adapter.Code(err)})
		})
	}
}

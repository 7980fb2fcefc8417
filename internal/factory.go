package internal

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/clients/simulate"
	"github.com/vadiminshakov/dipbuyer/internal/clients/uniswap"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/internal/services/coordinator"
)

// Connector builds the chain client for the configured mode.
// This is the single point of truth for dispatching between the live DEX and the simulation.
type Connector struct {
	logger *zap.Logger

	mu  sync.Mutex
	sim *simulate.Exchange
}

// NewConnector creates a connector.
func NewConnector(logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Connector{logger: logger}
}

// Connect satisfies coordinator.ConnectFunc.
func (c *Connector) Connect(ctx context.Context, cfg config.Config) (coordinator.ChainClient, error) {
	switch cfg.Mode {
	case config.ModeLive:
		client, err := uniswap.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey, cfg.Chain.Router, cfg.Chain.Quoter, c.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to chain")
		}
		c.logger.Info("connected to chain", zap.String("wallet", client.Owner().Hex()))
		return client, nil
	case config.ModeSimulate:
		return c.simulation(cfg)
	default:
		return nil, errors.Errorf("unsupported mode: %s", cfg.Mode)
	}
}

// simulation returns the process-wide simulated exchange. The wallet survives
// Stop/Start; prices are refreshed from the config on every connect.
func (c *Connector) simulation(cfg config.Config) (*simulate.Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stable := cfg.Chain.Stablecoin
	if c.sim == nil {
		balance, err := domain.ParseUnits(cfg.Simulate.StableBalance.String(), stable.Decimals)
		if err != nil {
			return nil, errors.Wrap(err, "simulate stable balance")
		}

		c.sim = simulate.NewExchange(stable, c.logger.Named("simulate"))
		c.sim.SetBalance(stable.Token, balance)
	}

	for _, a := range cfg.Assets {
		p, ok := cfg.Simulate.Prices[a.ID]
		if !ok {
			c.logger.Warn("no simulated price, asset has no pool", zap.String("asset", a.ID))
			continue
		}
		price, err := domain.ParseUnits(p.String(), domain.PriceDecimals)
		if err != nil {
			return nil, errors.Wrapf(err, "simulate price for %s", a.ID)
		}
		c.sim.ListToken(a.Token, a.Decimals, price)
	}

	return c.sim, nil
}

package registry

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-credential-registry/regerr"
)

// DialLedger connects to the JSON-RPC endpoint at url with an instrumented HTTP transport and
// checks that it serves chainID.
func DialLedger(ctx context.Context, url string, chainID int64) (*ethclient.Client, error) {
	if url == "" {
		return nil, regerr.Input("RPC URL is required")
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, regerr.Wrap(regerr.CodeChainFailure, err, "failed to dial "+url)
	}
	client := ethclient.NewClient(rpcClient)

	served, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, regerr.Wrap(regerr.CodeChainFailure, err, "failed to read chain ID from "+url)
	}
	if served.Int64() != chainID {
		client.Close()
		return nil, regerr.New(regerr.CodeNetworkMismatch, "%s serves chain %v, expected %d", url, served, chainID)
	}

	return client, nil
}

// Dial connects to cfg.RPCURL and returns a client for the configured registry.
func Dial(ctx context.Context, cfg *Config, options ...Option) (*Client, error) {
	if cfg == nil {
		return nil, regerr.Input("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ledger, err := DialLedger(ctx, cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ledger, cfg, options...)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return client, nil
}

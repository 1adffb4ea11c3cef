package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/pilacorp/go-credential-registry/audit"
	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
)

// RecentEvents returns the audit timeline of the last LookbackBlocks blocks, trimmed to the
// configured window.
func (c *Client) RecentEvents(ctx context.Context) ([]audit.Event, error) {
	head, err := c.ledger.BlockNumber(ctx)
	if err != nil {
		return nil, regerr.Wrap(regerr.CodeChainFailure, err, "failed to read head block")
	}

	var from uint64
	if head > c.cfg.LookbackBlocks {
		from = head - c.cfg.LookbackBlocks
	}

	issued, revoked, err := c.FetchEvents(ctx, from, head)
	if err != nil {
		return nil, err
	}
	return audit.MergeWindow(issued, revoked, c.cfg.AuditWindow), nil
}

// FetchEvents returns the Issued and Revoked events emitted in [from, to], each in log order.
// The range is requested in chunks of at most MaxLogRange blocks; the two streams are fetched
// concurrently.
func (c *Client) FetchEvents(ctx context.Context, from, to uint64) (issued, revoked []audit.Event, err error) {
	if from > to {
		return nil, nil, regerr.Input("invalid block range %d-%d", from, to)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry.fetch_events")
	defer span.End()
	span.SetAttributes(attribute.Int64("from_block", int64(from)), attribute.Int64("to_block", int64(to)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issued, err = c.fetchStream(gctx, EventIssued, audit.KindIssued, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		revoked, err = c.fetchStream(gctx, EventRevoked, audit.KindRevoked, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	c.log.DebugContext(ctx, "fetched registry events", "from_block", from, "to_block", to, "issued", len(issued), "revoked", len(revoked))
	return issued, revoked, nil
}

func (c *Client) fetchStream(ctx context.Context, name string, kind audit.Kind, from, to uint64) ([]audit.Event, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return nil, fmt.Errorf("event %s missing from contract ABI", name)
	}

	events := []audit.Event{}
	for start := from; start <= to; start += c.cfg.MaxLogRange {
		end := min(start+c.cfg.MaxLogRange-1, to)

		logs, err := c.ledger.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{c.address},
			Topics:    [][]common.Hash{{ev.ID}},
		})
		if err != nil {
			return nil, regerr.Wrap(regerr.CodeChainFailure, err, fmt.Sprintf("failed to fetch %s events in blocks %d-%d", name, start, end))
		}

		for _, l := range logs {
			if l.Removed {
				continue
			}
			e, err := c.decodeEvent(name, kind, l)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}

		if end == to {
			break
		}
	}
	return events, nil
}

func (c *Client) decodeEvent(name string, kind audit.Kind, l types.Log) (audit.Event, error) {
	if len(l.Topics) != 3 {
		return audit.Event{}, regerr.New(regerr.CodeChainFailure, "%s log %s#%d has %d topics", name, l.TxHash.Hex(), l.Index, len(l.Topics))
	}

	fields := map[string]any{}
	if err := c.abi.UnpackIntoMap(fields, name, l.Data); err != nil {
		return audit.Event{}, regerr.Wrap(regerr.CodeChainFailure, err, "failed to decode "+name+" log")
	}

	e := audit.Event{
		Kind:        kind,
		DocHash:     fingerprint.Digest(l.Topics[1]),
		Issuer:      common.BytesToAddress(l.Topics[2].Bytes()),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}

	timestampField := "issuedAt"
	if kind == audit.KindRevoked {
		timestampField = "revokedAt"
	}
	e.Timestamp, _ = fields[timestampField].(uint64)
	e.IPFSCID, _ = fields["ipfsCid"].(string)

	return e, nil
}

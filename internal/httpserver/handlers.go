package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/querygate/server/internal/catalog"
	apierrors "github.com/querygate/server/internal/errors"
	"github.com/querygate/server/internal/gate"
	"github.com/querygate/server/internal/ledger"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/pkg/responders"
)

// health handles GET /health. Always 200 while the process is up; readiness
// is the endpoint that gates on dependencies.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(serverStartTime).String(),
		"timestamp": time.Now().UTC(),
		"network":   h.cfg.Chain.Network,
	})
}

// ready handles GET /ready. The ledger is the only hard dependency: a
// gateway that cannot reach it cannot safely adjudicate payments, so it must
// stop accepting traffic rather than degrade to fail-open.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("readiness.ledger_unreachable")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceNotReady, "signature ledger unreachable")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// wellKnownDatasetEntry is a single dataset in the discovery response.
type wellKnownDatasetEntry struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Endpoint    string            `json:"endpoint"`
	Price       wellKnownPrice    `json:"price"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type wellKnownPrice struct {
	Amount int64  `json:"amount"` // smallest units
	Asset  string `json:"asset"`
}

// wellKnownPaymentOptions handles GET /.well-known/payment-options so agents
// can discover paid resources and the payment tuple each one requires.
func (h *handlers) wellKnownPaymentOptions(w http.ResponseWriter, r *http.Request) {
	datasets := h.catalog.List()
	resources := make([]wellKnownDatasetEntry, 0, len(datasets))
	for _, ds := range datasets {
		resources = append(resources, wellKnownDatasetEntry{
			ID:          ds.DatasetID,
			Description: ds.Description,
			Endpoint:    h.cfg.Server.RoutePrefix + "/v1/query/" + ds.DatasetID,
			Price: wellKnownPrice{
				Amount: ds.PriceLamports,
				Asset:  ds.Asset,
			},
			Metadata: ds.Metadata,
		})
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	responders.JSON(w, http.StatusOK, map[string]any{
		"version":   "1.0",
		"server":    "querygate",
		"resources": resources,
		"payment": map[string]any{
			"methods": []string{"solana-native-transfer"},
			"header":  gate.SignatureHeader,
			"solana": map[string]string{
				"network":        h.cfg.Chain.Network,
				"paymentAddress": h.cfg.Verification.RecipientAddress,
			},
		},
	})
}

// listDatasets handles GET /v1/datasets.
func (h *handlers) listDatasets(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"datasets": h.catalog.List(),
	})
}

// resolveRequirement maps the requested dataset to the payment tuple the
// gate enforces. Exact dataset ID match only.
func (h *handlers) resolveRequirement(r *http.Request) (gate.Requirement, error) {
	datasetID := chi.URLParam(r, "datasetID")
	ds, err := h.catalog.Get(datasetID)
	if err != nil {
		return gate.Requirement{}, fmt.Errorf("unknown dataset %q", datasetID)
	}
	return gate.Requirement{
		Endpoint:  "/v1/query/" + ds.DatasetID,
		Amount:    ds.PriceLamports,
		Asset:     ds.Asset,
		Recipient: h.cfg.Verification.RecipientAddress,
		Network:   h.cfg.Chain.Network,
	}, nil
}

// runQuery handles POST /v1/query/{datasetID}. The gate has already
// adjudicated the payment by the time this runs.
func (h *handlers) runQuery(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	ds, err := h.catalog.Get(datasetID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatasetNotFound, "unknown dataset "+datasetID)
		return
	}

	provenance, _ := gate.ProvenanceFromContext(r.Context())

	result, err := h.executeDataset(r.Context(), ds)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("dataset", ds.DatasetID).
			Msg("query.execution_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "query execution failed")
		return
	}

	h.metrics.RecordQueryServed(ds.DatasetID)

	responders.JSON(w, http.StatusOK, map[string]any{
		"dataset":     ds.DatasetID,
		"description": ds.Description,
		"payment":     provenance,
		"result":      result,
	})
}

// executeDataset forwards the canned query to the analytics backend. The
// execution layer is intentionally thin; the engine's job ends once payment
// is adjudicated.
func (h *handlers) executeDataset(ctx context.Context, ds catalog.Dataset) (map[string]any, error) {
	// TODO: wire a real analytics backend driver once one is provisioned.
	return map[string]any{
		"status":     "executed",
		"executedAt": time.Now().UTC(),
		"rows":       []map[string]any{},
	}, nil
}

// getPayment handles GET /v1/payments/{signature}: an operator lookup of the
// ledger row for a signature, usage counter included.
func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	signature := chi.URLParam(r, "signature")
	rec, err := h.store.Lookup(r.Context(), signature)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "no payment recorded for signature")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("payments.lookup_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "ledger lookup failed")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"signature":       rec.Signature,
		"network":         rec.Network,
		"asset":           rec.Asset,
		"amount":          rec.Amount,
		"senderAddress":   rec.SenderAddress,
		"receiverAddress": rec.ReceiverAddress,
		"apiEndpoint":     rec.APIEndpoint,
		"firstUsedAt":     rec.FirstUsedAt,
		"usageCount":      rec.UsageCount,
	})
}

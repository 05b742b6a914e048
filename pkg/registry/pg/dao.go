package pg

import (
	"time"

	"github.com/uptrace/bun"
)

// TransferDao is a data access object that maps directly to the
// 'transfers' table in PostgreSQL. Intent and quote are stored as JSONB
// snapshots; the orchestrator only ever reads them back whole.
type TransferDao struct {
	bun.BaseModel `bun:"table:transfers"`

	ID               string     `json:"id" bun:",pk,type:varchar(128)"`
	BridgeKind       string     `json:"bridge_kind" bun:",notnull,type:varchar(32)"`
	State            string     `json:"state" bun:",notnull,type:varchar(32)"`
	Intent           []byte     `json:"intent" bun:",notnull,type:jsonb"`
	Quote            []byte     `json:"quote,omitempty" bun:"quote,type:jsonb"`
	SourceTxRef      string     `json:"source_tx_ref" bun:",type:varchar(128)"`
	DestinationTxRef string     `json:"destination_tx_ref" bun:"destination_tx_ref,type:varchar(128)"`
	ClaimPayload     []byte     `json:"claim_payload,omitempty" bun:"claim_payload,type:bytea"`
	QuoteConfirmedAt *time.Time `json:"quote_confirmed_at,omitempty" bun:"quote_confirmed_at"`
	CancelRequested  bool       `json:"cancel_requested" bun:",notnull,default:false"`
	Attempt          int        `json:"attempt" bun:",notnull,default:0"`
	TransientErrs    int        `json:"transient_errs" bun:",notnull,default:0"`
	LastError        string     `json:"last_error" bun:",type:text"`
	FailedPhase      string     `json:"failed_phase" bun:",type:varchar(16)"`
	CreatedAt        time.Time  `json:"created_at" bun:",notnull"`
	UpdatedAt        time.Time  `json:"updated_at" bun:",notnull"`
}

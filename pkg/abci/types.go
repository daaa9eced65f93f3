package abci

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // unix millis
	Txs       [][]byte
}

// Result codes for ExecTxResult.
const (
	CodeOK       uint32 = 0
	CodeRejected uint32 = 1 // group failed and left no state change
	CodeInvalid  uint32 = 2 // group did not decode or verify
)

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Get returns the first attribute value stored under key.
func (e Event) Get(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// ExecTxResult is the outcome of one tx (one atomic group) in a block.
type ExecTxResult struct {
	Code   uint32   `json:"code"`
	Log    string   `json:"log,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	TxIDs  []string `json:"txIds,omitempty"`
	Events []Event  `json:"events,omitempty"`
}

func (r ExecTxResult) IsOK() bool { return r.Code == CodeOK }

type ResponseFinalizeBlock struct {
	TxResults []ExecTxResult
	AppHash   [32]byte // hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	// FinalizeBlock errors only on storage faults; the block must not be saved.
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}

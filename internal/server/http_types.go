package server

// PredictRequest is the body of POST /predict. Each entry in Requests
// carries one query text; K applies to the whole call.
type PredictRequest struct {
	Requests []QueryRequest `json:"requests"`
	K        int            `json:"k"`
}

// QueryRequest is a single query inside a predict call.
type QueryRequest struct {
	Query string `json:"query"`
}

// PredictResponse mirrors the request: Indices[i] holds the ids of the K
// nearest vectors for Requests[i], fewer only when the index itself holds
// fewer than K vectors. Latencies are nanoseconds for the batch the call
// was served in.
type PredictResponse struct {
	Indices       [][]uint32 `json:"indices"`
	ModelLatency  uint64     `json:"model_latency"`
	SearchLatency uint64     `json:"search_latency"`
}

// StatsResponse describes the served index on GET /stats.
type StatsResponse struct {
	Vectors   int    `json:"vectors"`
	Dim       int    `json:"dim"`
	Metric    string `json:"metric"`
	Quantized bool   `json:"quantized"`
	MaxLayer  int    `json:"max_layer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

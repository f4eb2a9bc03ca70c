package model

// Results holds the decoded values of one aggregate call.
type Results struct {
	BlockNumber uint64                 `json:"block_number"`
	Original    map[string]interface{} `json:"original"`
	Transformed map[string]interface{} `json:"transformed"`
}

// Response is the outcome of a single aggregate round-trip.
type Response struct {
	Results   Results                  `json:"results"`
	KeyToArgs map[string][]interface{} `json:"key_to_args"`
}

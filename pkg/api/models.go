package api

// PredictRequest is the body of POST /predict and the query of GET /predict.
type PredictRequest struct {
	Inputs string `json:"inputs" schema:"inputs"`
}

// PredictResponse maps every label of the served model to its score.
type PredictResponse map[string]float64

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

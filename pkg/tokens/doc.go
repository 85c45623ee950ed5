// Package tokens estimates token counts ahead of an upstream call.
//
// The estimate is what the governor reserves against the budgets before a
// call runs; actual usage reported by the upstream replaces it on commit.
// Estimation is character based: the configured characters-per-token ratio
// divides the text length, and a completion allowance covers the response.
//
//	est := tokens.NewEstimator(&cfg.Tokens)
//	e := est.EstimateDocument(tokens.Document{System: sys, Body: doc})
//	req.EstimatedTokens = e.Total
package tokens

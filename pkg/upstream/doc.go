// Package upstream is a minimal client for OpenAI-compatible chat
// completion endpoints.
//
// The client performs exactly one HTTP attempt per call. Retries, circuit
// breaking and budgeting belong to the governor, which classifies failures
// through the Retryable method every error type in this package exposes:
//
//	client, err := upstream.New(upstream.FromConfig(&cfg.Upstream))
//	if err != nil {
//	    return err
//	}
//	res, err := gov.Execute(ctx, req, client.Operation(upstream.Prompt{
//	    System: "You are a summarizer.",
//	    User:   document,
//	}))
package upstream

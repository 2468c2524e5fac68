// Package param reads secrets and prompt lists from SSM Parameter Store.
// An empty path fetches nothing.
package param

import "context"

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	FetchAll(context.Context, string) ([]string, error)
}

// Package dedupd embeds the duplicate gate, analyzer and cleanup engine in a crawler process.
//
// The client talks to the same document store as the dedupd service: a Redis or
// Valkey hash store, or an embedded SQLite database for single-node crawlers.
//
//	client, err := dedupd.New(dedupd.WithSQLite("crawl.db"))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	for _, u := range client.FilterNewURLs(ctx, discovered) {
//		page := fetch(u)
//		_ = client.AddDocument(ctx, dedupd.Document{URL: u, Content: page})
//		_ = client.MarkScraped(ctx, u)
//	}
//
//	report, err := client.Analyze(ctx)
//
// Cleanup is a dry run unless the request sets Execute.
package dedupd

// Package notebooks provides the Drive-backed store for Colab notebooks.
//
// Colab notebooks live in Google Drive as files with the
// application/vnd.google.colaboratory MIME type, their content being an
// nbformat 4 JSON document. This package covers:
//   - Creating notebooks (uploading a fresh nbformat document)
//   - Listing and searching the user's notebooks
//   - Reading notebook content back as a structured document
//   - Building nbformat cells and validating notebook IDs and names
//
// The client supports multi-account functionality; each client instance
// is bound to a specific account and uses that account's OAuth token
// from the google package.
//
// Example usage:
//
//	ctx := context.Background()
//	client, err := notebooks.NewClient(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	nb, err := client.CreateNotebook(ctx, "analysis", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(nb.ColabURL)
package notebooks

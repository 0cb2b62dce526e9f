// Package ranking turns the per-product ranking of one score into a
// published snapshot.
//
// Basic Usage:
//
//	result, err := engine.Run(ctx, vertical, products)
//	if err != nil {
//		return err
//	}
//	snap := ranking.Build(vertical.ID, vertical.CompositeName(), result.RunID, products, time.Now())
//	for _, e := range snap.Top(10) {
//		fmt.Println(e.Rank, e.ProductID, e.Value)
//	}
//
// Entries are ordered best first. Rank 1 is the best product, which is the
// product at the highest batch Position.
package ranking

// Package graphqa answers natural-language questions over a GraphRAG-style
// knowledge graph. A per-query orchestrator extracts entity mentions from the
// question, retrieves supporting evidence from the graph through escalating
// lookup modes, judges whether the evidence suffices, and synthesizes an
// answer that cites every evidence item it rests on.
//
// The top-level Client wires the agents together over a driver.GraphDriver
// (Neo4j or in-memory) and an nlp.Client completion provider:
//
//	client, err := graphqa.NewClient(graphDriver, nlpClient, embedderClient, nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	answer, err := client.SubmitQuery(ctx, "Who does the White Rabbit work for?", nil)
//
// Queries that cannot be answered within the configured turn budget still
// return an answer marked low confidence; hard failures return a
// *orchestrator.FailureError describing where and why the session stopped.
package graphqa

// Package knowledge provides the content-addressed repository of action
// templates and their atomic building blocks. It includes the versioned
// store with ontology registries and grouping indices, ranked contextual
// search, JSON document persistence with atomic saves, ingestion
// validation, and the classified error taxonomy shared by the engine.
package knowledge

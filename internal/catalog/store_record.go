package catalog

import "github.com/roach88/bsky-store/internal/model"

// StoreRecord is one row of the catalog's stores table.
type StoreRecord struct {
	Name        model.StoreName
	Root        string
	CreatedAt   model.Timestamp
	UpdatedAt   model.Timestamp
	Description *string
	ConfigJSON  string
}

// StoreMetadata is the subset of StoreRecord exposed by getMetadata:
// everything except the config payload.
type StoreMetadata struct {
	Name        model.StoreName
	Root        string
	CreatedAt   model.Timestamp
	UpdatedAt   model.Timestamp
	Description *string
}

func (r StoreRecord) metadata() StoreMetadata {
	return StoreMetadata{
		Name:        r.Name,
		Root:        r.Root,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Description: r.Description,
	}
}

package molecule

import (
	"database/sql"
	"fmt"
	"log"
)

// Catalog is a read-only connection to the splatalogue database. It is opened
// once at startup and confined to the broker thread.
type Catalog struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to the catalog file. The caller decides whether a failure is
// fatal; a missing catalog only disables molecule lookups.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("molecule: open catalog %s: %w", path, err)
	}

	// fail fast on a missing file rather than on the first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("molecule: catalog %s: %w", path, err)
	}

	return &Catalog{
		db:     db,
		logger: log.New(log.Writer(), "[Catalog] ", log.LstdFlags),
	}, nil
}

// Close releases the underlying connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Query returns the catalog rows whose frequency lies within [lo, hi] GHz.
func (c *Catalog) Query(lo, hi float64) ([]Molecule, error) {
	rows, err := c.db.Query("SELECT * FROM lines WHERE frequency >= ? AND frequency <= ?", lo, hi)
	if err != nil {
		return nil, fmt.Errorf("molecule: query [%g, %g]: %w", lo, hi, err)
	}
	defer rows.Close()

	var result []Molecule
	for rows.Next() {
		mol, err := scanMolecule(rows)
		if err != nil {
			c.logger.Printf("skipping unreadable row: %v", err)
			continue
		}
		result = append(result, mol)
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("molecule: iterating rows: %w", err)
	}
	return result, nil
}

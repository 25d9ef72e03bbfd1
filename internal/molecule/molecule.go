// Package molecule provides read-only lookups over the pre-built splatalogue
// spectral-line catalog.
package molecule

import "database/sql"

// Molecule is one spectral-line catalog row. Frequencies are in GHz.
type Molecule struct {
	Species        string  `json:"species"`
	Name           string  `json:"name"`
	Frequency      float64 `json:"frequency"`
	QuantumNumbers string  `json:"quantum"`
	CDMSIntensity  float64 `json:"cdms"`
	LovasIntensity float64 `json:"lovas"`
	EL             float64 `json:"E_L"`
	Linelist       string  `json:"list"`
}

// scanMolecule reads one catalog row. Malformed or missing columns scan into
// default values; a row never fails the query.
func scanMolecule(rows *sql.Rows) (Molecule, error) {
	var (
		species, name, qn, linelist sql.NullString
		frequency, cdms, lovas, el  sql.NullFloat64
	)

	if err := rows.Scan(&species, &name, &frequency, &qn, &cdms, &lovas, &el, &linelist); err != nil {
		return Molecule{}, err
	}

	return Molecule{
		Species:        species.String,
		Name:           name.String,
		Frequency:      frequency.Float64,
		QuantumNumbers: qn.String,
		CDMSIntensity:  cdms.Float64,
		LovasIntensity: lovas.Float64,
		EL:             el.Float64,
		Linelist:       linelist.String,
	}, nil
}

/*
Package sqlite provides the SQLite-backed implementation of subsidy.Store.

PURPOSE:
  Implements every persistence contract of the engine in ONE database, so
  ReplaceCalculation can commit the result, its detail rows, and the
  application total write-back as a single transaction. Keeping the
  calculation ledger and the application record in separate stores would
  reopen the partial-write window between them.

KEY TABLES:
  applications:        Lifecycle state + computed total
  parcel_uses:         Immutable declared crop/parcel areas
  campaigns, crops,
  unit_rates:          Reference data the calculator prices against
  review_notes:        Append-only notes recorded during review
  calculations:        One row per application (UNIQUE application_id)
  calculation_details: Wholesale-replaced line items

CONCURRENCY:
  Lifecycle transitions are compare-and-set UPDATEs guarded by the current
  state; RowsAffected tells the caller whether it won. A sync.RWMutex keeps
  the single SQLite writer happy; in production with PostgreSQL the database
  handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  and crash recovery is sane.

DECIMALS:
  Areas and amounts are stored as TEXT produced by decimal.String() and
  re-parsed on scan, never as floats.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - subsidy/store.go: Interface contracts
  - subsidy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

// Store implements subsidy.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ subsidy.Store = (*Store)(nil)

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Applications (lifecycle state + computed total write-back)
	CREATE TABLE IF NOT EXISTS applications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dossier_id INTEGER NOT NULL,
		campaign_year INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'DRAFT',
		submitted_at TEXT,
		reviewer_id INTEGER,
		review_started_at TEXT,
		computed_total TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_applications_state
		ON applications(state);
	CREATE INDEX IF NOT EXISTS idx_applications_dossier
		ON applications(dossier_id);

	-- Declared parcel-uses (immutable once created)
	CREATE TABLE IF NOT EXISTS parcel_uses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id INTEGER NOT NULL,
		parcel_id INTEGER NOT NULL,
		crop_id INTEGER NOT NULL,
		area_sqm TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_parcel_uses_application
		ON parcel_uses(application_id);

	-- Campaigns (looked up by year when entering the calculator)
	CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		year INTEGER NOT NULL,
		description TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_campaigns_year
		ON campaigns(year);

	-- Crop catalog
	CREATE TABLE IF NOT EXISTS crops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		description TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Unit rates scoped to (campaign, crop). Uniqueness of the pair is a
	-- data-quality assumption; lookups take the first match.
	CREATE TABLE IF NOT EXISTS unit_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		campaign_id INTEGER NOT NULL,
		crop_id INTEGER NOT NULL,
		amount_per_sqm TEXT NOT NULL,
		area_cap_sqm TEXT,
		amount_cap TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_unit_rates_campaign_crop
		ON unit_rates(campaign_id, crop_id);

	-- Review notes (append-only)
	CREATE TABLE IF NOT EXISTS review_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id INTEGER NOT NULL,
		reviewer_id INTEGER NOT NULL,
		note TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_review_notes_application
		ON review_notes(application_id);

	-- CRITICAL: at most one calculation result per application
	CREATE TABLE IF NOT EXISTS calculations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id INTEGER NOT NULL UNIQUE,
		total TEXT NOT NULL,
		computed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS calculation_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		calculation_id INTEGER NOT NULL,
		crop_id INTEGER NOT NULL,
		declared_area TEXT NOT NULL,
		effective_area TEXT NOT NULL,
		unit_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		cap_applied BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_calculation_details_calculation
		ON calculation_details(calculation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// APPLICATIONS (subsidy.ApplicationStore)
// =============================================================================

// CreateApplication inserts a new draft application and assigns its ID.
func (s *Store) CreateApplication(ctx context.Context, app *subsidy.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.State == "" {
		app.State = subsidy.StateDraft
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (dossier_id, campaign_year, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		app.DossierID, app.CampaignYear, app.State,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert application: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	app.ID = subsidy.ApplicationID(id)
	return nil
}

const applicationColumns = `id, dossier_id, campaign_year, state, submitted_at,
	reviewer_id, review_started_at, computed_total, created_at, updated_at`

// GetApplication returns the application, or (nil, nil) if absent.
func (s *Store) GetApplication(ctx context.Context, id subsidy.ApplicationID) (*subsidy.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)

	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns all applications, newest first.
func (s *Store) ListApplications(ctx context.Context) ([]subsidy.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []subsidy.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// CompareAndSwapState guards the UPDATE with the expected current state, so
// of two racing transitions exactly one sees RowsAffected == 1.
func (s *Store) CompareAndSwapState(ctx context.Context, id subsidy.ApplicationID, from, to subsidy.ApplicationState, patch subsidy.StatePatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := []string{"state = ?", "updated_at = ?"}
	args := []any{to, time.Now().UTC().Format(time.RFC3339)}

	if patch.SubmittedAt != nil {
		set = append(set, "submitted_at = ?")
		args = append(args, patch.SubmittedAt.Format(time.RFC3339))
	}
	if patch.ReviewerID != nil {
		set = append(set, "reviewer_id = ?")
		args = append(args, *patch.ReviewerID)
	}
	if patch.ReviewStartedAt != nil {
		set = append(set, "review_started_at = ?")
		args = append(args, patch.ReviewStartedAt.Format(time.RFC3339))
	}

	args = append(args, id, from)
	res, err := s.db.ExecContext(ctx,
		"UPDATE applications SET "+strings.Join(set, ", ")+" WHERE id = ? AND state = ?",
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition application: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*subsidy.Application, error) {
	var (
		app           subsidy.Application
		submittedAt   sql.NullString
		reviewerID    sql.NullInt64
		reviewStarted sql.NullString
		computedTotal sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&app.ID, &app.DossierID, &app.CampaignYear, &app.State,
		&submittedAt, &reviewerID, &reviewStarted, &computedTotal,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.SubmittedAt = parseNullTime(submittedAt)
	app.ReviewStartedAt = parseNullTime(reviewStarted)
	if reviewerID.Valid {
		rid := subsidy.UserID(reviewerID.Int64)
		app.ReviewerID = &rid
	}
	if computedTotal.Valid {
		total, err := parseStoredDecimal("computed_total", computedTotal.String)
		if err != nil {
			return nil, err
		}
		app.ComputedTotal = &total
	}
	app.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	app.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &app, nil
}

// =============================================================================
// DECLARED PARCEL-USES (subsidy.ParcelUseStore)
// =============================================================================

func (s *Store) AddParcelUse(ctx context.Context, use *subsidy.DeclaredParcelUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parcel_uses (application_id, parcel_id, crop_id, area_sqm)
		VALUES (?, ?, ?, ?)`,
		use.ApplicationID, use.ParcelID, use.CropID, use.AreaSqm.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert parcel use: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	use.ID = id
	return nil
}

// ListParcelUses returns declared uses in insertion order so recomputation
// is deterministic.
func (s *Store) ListParcelUses(ctx context.Context, appID subsidy.ApplicationID) ([]subsidy.DeclaredParcelUse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, parcel_id, crop_id, area_sqm
		FROM parcel_uses
		WHERE application_id = ?
		ORDER BY id ASC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []subsidy.DeclaredParcelUse
	for rows.Next() {
		var (
			use  subsidy.DeclaredParcelUse
			area string
		)
		if err := rows.Scan(&use.ID, &use.ApplicationID, &use.ParcelID, &use.CropID, &area); err != nil {
			return nil, err
		}
		if use.AreaSqm, err = parseStoredDecimal("area_sqm", area); err != nil {
			return nil, err
		}
		uses = append(uses, use)
	}
	return uses, rows.Err()
}

// =============================================================================
// CAMPAIGNS (subsidy.CampaignStore)
// =============================================================================

func (s *Store) CreateCampaign(ctx context.Context, c *subsidy.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (year, description, start_date, end_date, active)
		VALUES (?, ?, ?, ?, ?)`,
		c.Year, c.Description,
		c.StartDate.Format(time.RFC3339), c.EndDate.Format(time.RFC3339),
		c.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = subsidy.CampaignID(id)
	return nil
}

func (s *Store) GetCampaignByYear(ctx context.Context, year int) (*subsidy.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c          subsidy.Campaign
		start, end string
	)
	// Only active campaigns resolve; an inactive row for the same year must
	// never shadow an active one.
	err := s.db.QueryRowContext(ctx, `
		SELECT id, year, description, start_date, end_date, active
		FROM campaigns WHERE year = ? AND active = 1
		ORDER BY id ASC LIMIT 1`, year,
	).Scan(&c.ID, &c.Year, &c.Description, &start, &end, &c.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.StartDate, _ = time.Parse(time.RFC3339, start)
	c.EndDate, _ = time.Parse(time.RFC3339, end)
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]subsidy.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year, description, start_date, end_date, active
		FROM campaigns ORDER BY year DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []subsidy.Campaign
	for rows.Next() {
		var (
			c          subsidy.Campaign
			start, end string
		)
		if err := rows.Scan(&c.ID, &c.Year, &c.Description, &start, &end, &c.Active); err != nil {
			return nil, err
		}
		c.StartDate, _ = time.Parse(time.RFC3339, start)
		c.EndDate, _ = time.Parse(time.RFC3339, end)
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// =============================================================================
// CROPS (subsidy.CropStore)
// =============================================================================

func (s *Store) CreateCrop(ctx context.Context, c *subsidy.Crop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO crops (code, description, active) VALUES (?, ?, ?)`,
		c.Code, c.Description, c.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crop: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = subsidy.CropID(id)
	return nil
}

func (s *Store) ListCrops(ctx context.Context) ([]subsidy.Crop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, description, active FROM crops ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crops []subsidy.Crop
	for rows.Next() {
		var c subsidy.Crop
		if err := rows.Scan(&c.ID, &c.Code, &c.Description, &c.Active); err != nil {
			return nil, err
		}
		crops = append(crops, c)
	}
	return crops, rows.Err()
}

// =============================================================================
// UNIT RATES (subsidy.RateStore)
// =============================================================================

func (s *Store) CreateUnitRate(ctx context.Context, r *subsidy.UnitRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_rates (campaign_id, crop_id, amount_per_sqm, area_cap_sqm, amount_cap)
		VALUES (?, ?, ?, ?, ?)`,
		r.CampaignID, r.CropID, r.AmountPerSqm.String(),
		nullDecimal(r.AreaCapSqm), nullDecimal(r.AmountCap),
	)
	if err != nil {
		return fmt.Errorf("failed to insert unit rate: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = subsidy.RateID(id)
	return nil
}

// GetUnitRate returns the first match for (campaign, crop), or (nil, nil).
func (s *Store) GetUnitRate(ctx context.Context, campaignID subsidy.CampaignID, cropID subsidy.CropID) (*subsidy.UnitRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, crop_id, amount_per_sqm, area_cap_sqm, amount_cap
		FROM unit_rates
		WHERE campaign_id = ? AND crop_id = ?
		ORDER BY id ASC LIMIT 1`, campaignID, cropID)

	rate, err := scanUnitRate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rate, nil
}

func (s *Store) ListUnitRates(ctx context.Context, campaignID subsidy.CampaignID) ([]subsidy.UnitRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, crop_id, amount_per_sqm, area_cap_sqm, amount_cap
		FROM unit_rates
		WHERE campaign_id = ?
		ORDER BY id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []subsidy.UnitRate
	for rows.Next() {
		rate, err := scanUnitRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, *rate)
	}
	return rates, rows.Err()
}

// DeleteUnitRate removes a rate rule (admin re-pricing workflow).
func (s *Store) DeleteUnitRate(ctx context.Context, id subsidy.RateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM unit_rates WHERE id = ?", id)
	return err
}

func scanUnitRate(row rowScanner) (*subsidy.UnitRate, error) {
	var (
		r                  subsidy.UnitRate
		amount             string
		areaCap, amountCap sql.NullString
	)
	if err := row.Scan(&r.ID, &r.CampaignID, &r.CropID, &amount, &areaCap, &amountCap); err != nil {
		return nil, err
	}

	var err error
	if r.AmountPerSqm, err = parseStoredDecimal("amount_per_sqm", amount); err != nil {
		return nil, err
	}
	if r.AreaCapSqm, err = parseNullDecimal("area_cap_sqm", areaCap); err != nil {
		return nil, err
	}
	if r.AmountCap, err = parseNullDecimal("amount_cap", amountCap); err != nil {
		return nil, err
	}
	return &r, nil
}

// =============================================================================
// REVIEW NOTES (subsidy.ReviewNoteStore)
// =============================================================================

func (s *Store) AddReviewNote(ctx context.Context, n *subsidy.ReviewNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO review_notes (application_id, reviewer_id, note, created_at)
		VALUES (?, ?, ?, ?)`,
		n.ApplicationID, n.ReviewerID, n.Note, n.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review note: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

func (s *Store) ListReviewNotes(ctx context.Context, appID subsidy.ApplicationID) ([]subsidy.ReviewNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, reviewer_id, note, created_at
		FROM review_notes
		WHERE application_id = ?
		ORDER BY id ASC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []subsidy.ReviewNote
	for rows.Next() {
		var (
			n         subsidy.ReviewNote
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.ApplicationID, &n.ReviewerID, &n.Note, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// =============================================================================
// CALCULATION LEDGER (subsidy.CalculationStore)
// =============================================================================

// ReplaceCalculation upserts the result row, wholesale-replaces its details,
// and writes the total back onto the application in ONE transaction. Either
// every write commits or none does.
func (s *Store) ReplaceCalculation(ctx context.Context, result *subsidy.CalculationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var calcID int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM calculations WHERE application_id = ?",
		result.ApplicationID,
	).Scan(&calcID)

	switch {
	case err == sql.ErrNoRows:
		res, insertErr := tx.ExecContext(ctx, `
			INSERT INTO calculations (application_id, total, computed_at)
			VALUES (?, ?, ?)`,
			result.ApplicationID, result.Total.String(),
			result.ComputedAt.Format(time.RFC3339),
		)
		if insertErr != nil {
			return fmt.Errorf("failed to insert calculation: %w", insertErr)
		}
		calcID, insertErr = res.LastInsertId()
		if insertErr != nil {
			return insertErr
		}
	case err != nil:
		return err
	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE calculations SET total = ?, computed_at = ? WHERE id = ?",
			result.Total.String(), result.ComputedAt.Format(time.RFC3339), calcID,
		); err != nil {
			return fmt.Errorf("failed to update calculation: %w", err)
		}
	}

	// Wholesale replace: prior detail rows are discarded, never merged.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM calculation_details WHERE calculation_id = ?", calcID,
	); err != nil {
		return fmt.Errorf("failed to clear calculation details: %w", err)
	}

	for i := range result.Details {
		d := &result.Details[i]
		d.CalculationID = subsidy.CalculationID(calcID)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO calculation_details
			(calculation_id, crop_id, declared_area, effective_area, unit_rate, amount, cap_applied)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			calcID, d.CropID,
			d.DeclaredArea.String(), d.EffectiveArea.String(),
			d.UnitRate.String(), d.Amount.String(), d.CapApplied,
		)
		if err != nil {
			return fmt.Errorf("failed to insert calculation detail: %w", err)
		}
		d.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}

	// Total write-back rides the same transaction as the result rows.
	if _, err := tx.ExecContext(ctx,
		"UPDATE applications SET computed_total = ?, updated_at = ? WHERE id = ?",
		result.Total.String(), time.Now().UTC().Format(time.RFC3339), result.ApplicationID,
	); err != nil {
		return fmt.Errorf("failed to write back computed total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	result.ID = subsidy.CalculationID(calcID)
	return nil
}

// GetCalculation returns the current result with its details, or (nil, nil).
func (s *Store) GetCalculation(ctx context.Context, appID subsidy.ApplicationID) (*subsidy.CalculationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		result     subsidy.CalculationResult
		total      string
		computedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, application_id, total, computed_at
		FROM calculations WHERE application_id = ?`, appID,
	).Scan(&result.ID, &result.ApplicationID, &total, &computedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Total, err = parseStoredDecimal("total", total); err != nil {
		return nil, err
	}
	result.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, calculation_id, crop_id, declared_area, effective_area, unit_rate, amount, cap_applied
		FROM calculation_details
		WHERE calculation_id = ?
		ORDER BY id ASC`, result.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d                               subsidy.CalculationDetail
			declared, effective, rate, amnt string
		)
		if err := rows.Scan(&d.ID, &d.CalculationID, &d.CropID,
			&declared, &effective, &rate, &amnt, &d.CapApplied); err != nil {
			return nil, err
		}
		if d.DeclaredArea, err = parseStoredDecimal("declared_area", declared); err != nil {
			return nil, err
		}
		if d.EffectiveArea, err = parseStoredDecimal("effective_area", effective); err != nil {
			return nil, err
		}
		if d.UnitRate, err = parseStoredDecimal("unit_rate", rate); err != nil {
			return nil, err
		}
		if d.Amount, err = parseStoredDecimal("amount", amnt); err != nil {
			return nil, err
		}
		result.Details = append(result.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"calculation_details", "calculations", "review_notes",
		"parcel_uses", "applications", "unit_rates", "crops", "campaigns",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// parseStoredDecimal parses decimal text this store wrote itself. A parse
// failure means the row is corrupt and surfaces as an error, never as a
// silent zero amount.
func parseStoredDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt %s value %q: %w", column, s, err)
	}
	return d, nil
}

func parseNullDecimal(column string, s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := parseStoredDecimal(column, s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

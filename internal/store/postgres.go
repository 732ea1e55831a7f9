package store

import (
    "context"
    "database/sql"
    "embed"
    "encoding/json"
    "errors"
    "fmt"
    "io/fs"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "viasync/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// migrationFiles returns the embedded migration names in apply order.
func migrationFiles() ([]string, error) {
    names, err := fs.Glob(migrations, "migrations/*.sql")
    if err != nil { return nil, err }
    sort.Strings(names)
    return names, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
    names, err := migrationFiles()
    if err != nil { return err }
    for _, name := range names {
        b, err := migrations.ReadFile(name)
        if err != nil { return err }
        if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

func (p *Postgres) StoreRoute(ctx context.Context, r model.Route) (string, error) {
    id := uuid.New()
    r.ID = id.String()
    r.Stops = append([]model.RouteStop(nil), r.Stops...)
    markPending(&r)
    doc, err := json.Marshal(r)
    if err != nil { return "", err }

    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return "", err }
    defer func(){ _ = tx.Rollback() }()

    if _, err := tx.ExecContext(ctx, `INSERT INTO routes (id, vehicle_id, doc) VALUES ($1,$2,$3)`, id, r.VehicleID, doc); err != nil {
        return "", err
    }
    for _, s := range r.Stops {
        if s.IsDepot { continue }
        if _, err := tx.ExecContext(ctx, `INSERT INTO stop_statuses (route_id, stop_id, status) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, id, s.LocationID, string(model.StopPending)); err != nil {
            return "", err
        }
    }
    if err := tx.Commit(); err != nil { return "", err }
    return r.ID, nil
}

func (p *Postgres) GetRoute(ctx context.Context, routeID string) (model.StoredRoute, error) {
    if _, err := uuid.Parse(routeID); err != nil { return model.StoredRoute{}, ErrNotFound }
    var (
        doc []byte
        out model.StoredRoute
    )
    err := p.db.QueryRowContext(ctx, `SELECT doc, created_at, updated_at FROM routes WHERE id=$1`, routeID).Scan(&doc, &out.CreatedAt, &out.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.StoredRoute{}, ErrNotFound }
    if err != nil { return model.StoredRoute{}, err }
    if err := json.Unmarshal(doc, &out.Route); err != nil { return model.StoredRoute{}, err }
    statuses, err := p.stopStatuses(ctx, routeID)
    if err != nil { return model.StoredRoute{}, err }
    applyStatuses(&out.Route, statuses)
    return out, nil
}

func (p *Postgres) stopStatuses(ctx context.Context, routeID string) (map[string]model.StopStatus, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT stop_id, status FROM stop_statuses WHERE route_id=$1`, routeID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := map[string]model.StopStatus{}
    for rows.Next() {
        var id, st string
        if err := rows.Scan(&id, &st); err != nil { return nil, err }
        out[id] = model.StopStatus(st)
    }
    return out, rows.Err()
}

func (p *Postgres) ListRoutes(ctx context.Context, cursor string, limit int) ([]model.StoredRoute, string, error) {
    limit = clampLimit(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM routes WHERE (created_at, id) > (SELECT created_at, id FROM routes WHERE id::text=$1) ORDER BY created_at, id LIMIT $2`, cursor, limit+1)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM routes ORDER BY created_at, id LIMIT $1`, limit+1)
    }
    if err != nil { return nil, "", err }
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil { rows.Close(); return nil, "", err }
        ids = append(ids, id)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return nil, "", err }

    next := ""
    if len(ids) > limit {
        ids = ids[:limit]
        next = ids[len(ids)-1]
    }
    out := make([]model.StoredRoute, 0, len(ids))
    for _, id := range ids {
        r, err := p.GetRoute(ctx, id)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    return out, next, nil
}

func (p *Postgres) UpdateStopStatus(ctx context.Context, routeID string, vehicleID int, stopID string, status model.StopStatus) (model.StoredRoute, error) {
    if !status.Valid() { return model.StoredRoute{}, ErrInvalidStatus }
    r, err := p.GetRoute(ctx, routeID)
    if err != nil { return model.StoredRoute{}, err }
    if r.VehicleID != vehicleID || findStop(r.Route, stopID) < 0 { return model.StoredRoute{}, ErrNotFound }

    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.StoredRoute{}, err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `INSERT INTO stop_statuses (route_id, stop_id, status, updated_at) VALUES ($1,$2,$3,now())
        ON CONFLICT (route_id, stop_id) DO UPDATE SET status=EXCLUDED.status, updated_at=now()`, routeID, stopID, string(status)); err != nil {
        return model.StoredRoute{}, err
    }
    if _, err := tx.ExecContext(ctx, `UPDATE routes SET updated_at=now() WHERE id=$1`, routeID); err != nil {
        return model.StoredRoute{}, err
    }
    if err := tx.Commit(); err != nil { return model.StoredRoute{}, err }
    return p.GetRoute(ctx, routeID)
}

func (p *Postgres) UpdateVehiclePosition(ctx context.Context, routeID string, vehicleID int, lat, lng float64, ts time.Time) (model.VehiclePosition, error) {
    if _, err := uuid.Parse(routeID); err != nil { return model.VehiclePosition{}, ErrNotFound }
    var vid int
    err := p.db.QueryRowContext(ctx, `SELECT vehicle_id FROM routes WHERE id=$1`, routeID).Scan(&vid)
    if errors.Is(err, sql.ErrNoRows) || (err == nil && vid != vehicleID) { return model.VehiclePosition{}, ErrNotFound }
    if err != nil { return model.VehiclePosition{}, err }
    if ts.IsZero() { ts = time.Now() }
    ts = ts.UTC()
    _, err = p.db.ExecContext(ctx, `INSERT INTO vehicle_positions (route_id, vehicle_id, lat, lng, recorded_at) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (route_id, vehicle_id) DO UPDATE SET lat=EXCLUDED.lat, lng=EXCLUDED.lng, recorded_at=EXCLUDED.recorded_at
        WHERE vehicle_positions.recorded_at <= EXCLUDED.recorded_at`, routeID, vehicleID, lat, lng, ts)
    if err != nil { return model.VehiclePosition{}, err }
    return model.VehiclePosition{RouteID: routeID, VehicleID: vehicleID, Lat: lat, Lng: lng, RecordedAt: ts}, nil
}

func (p *Postgres) ListVehiclePositions(ctx context.Context, routeID string) ([]model.VehiclePosition, error) {
    if _, err := uuid.Parse(routeID); err != nil { return nil, ErrNotFound }
    var exists bool
    if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM routes WHERE id=$1)`, routeID).Scan(&exists); err != nil {
        return nil, err
    }
    if !exists { return nil, ErrNotFound }
    rows, err := p.db.QueryContext(ctx, `SELECT vehicle_id, lat, lng, recorded_at FROM vehicle_positions WHERE route_id=$1 ORDER BY vehicle_id`, routeID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.VehiclePosition{}
    for rows.Next() {
        vp := model.VehiclePosition{RouteID: routeID}
        if err := rows.Scan(&vp.VehicleID, &vp.Lat, &vp.Lng, &vp.RecordedAt); err != nil { return nil, err }
        out = append(out, vp)
    }
    return out, rows.Err()
}

package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestORS(t *testing.T, h http.HandlerFunc) *ORS {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	o := NewORS("test-key", srv.URL)
	o.http.session = srv.Client()
	o.http.backoff = time.Millisecond
	return o
}

func TestORSGeocode(t *testing.T) {
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "1 Main St", r.URL.Query().Get("text"))
		_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[13.4,52.5]}}]}`))
	})

	c, err := o.Geocode(context.Background(), " 1 Main St ")
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: 52.5, Lon: 13.4}, c)
}

func TestORSGeocodeNotFound(t *testing.T) {
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	})

	_, err := o.Geocode(context.Background(), "nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	var ge *GeocodeError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "nowhere", ge.Address)
}

func TestORSRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[1,2]}}]}`))
	})

	c, err := o.Geocode(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Lat: 2, Lon: 1}, c)
	assert.EqualValues(t, 3, calls.Load())
}

func TestORSDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	})

	_, err := o.Geocode(context.Background(), "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestORSMatrix(t *testing.T) {
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/matrix/driving-car", r.URL.Path)
		var req orsMatrixRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, [][]float64{{13.4, 52.5}, {13.5, 52.6}}, req.Locations)
		_, _ = w.Write([]byte(`{"distances":[[0,1000.4],[990.6,0]],"durations":[[0,120.2],[118.7,0]]}`))
	})

	m, err := o.Matrix(context.Background(), []Coordinates{{Lat: 52.5, Lon: 13.4}, {Lat: 52.6, Lon: 13.5}})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1000}, {991, 0}}, m.Distances)
	assert.Equal(t, [][]int{{0, 120}, {119, 0}}, m.Durations)
	assert.Equal(t, 2, m.Size())
}

func TestORSMatrixRejectsUnroutablePair(t *testing.T) {
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"distances":[[0,null],[1,0]],"durations":[[0,1],[1,0]]}`))
	})
	_, err := o.Matrix(context.Background(), []Coordinates{{}, {Lat: 1}})
	assert.Error(t, err)
}

func TestORSMatrixCap(t *testing.T) {
	o := NewORS("k", "http://127.0.0.1:0")
	_, err := o.Matrix(context.Background(), make([]Coordinates, ORSMaxMatrixPoints+1))
	assert.Error(t, err)
}

func TestORSRouteDuration(t *testing.T) {
	o := newTestORS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/directions/driving-car", r.URL.Path)
		_, _ = w.Write([]byte(`{"routes":[{"summary":{"distance":5400.2,"duration":730.6}}]}`))
	})
	secs, err := o.RouteDuration(context.Background(), []Coordinates{{Lat: 1}, {Lat: 2}, {Lat: 1}})
	require.NoError(t, err)
	assert.Equal(t, 731, secs)
}

package fusion

import (
	"log"
	"sort"
	"sync"
)

// passRecordTTLSeconds bounds how long a service's pass records survive
// after its last update.
const passRecordTTLSeconds = 24 * 3600

// StopPassRecord is one confirmed (or best-known) pass of a stop within
// a service instance.
type StopPassRecord struct {
	StopSequence    int
	StopID          string
	ArrivalEpoch    int64
	DepartureEpoch  int64
	ArrivalDelayS   *int
	DepartureDelayS *int
}

// PassRecorder tracks, per service instance, which stops have been
// passed and when. The exposed last sequence is monotonically
// non-decreasing, which is what the anti-backtrack rule enforces
// against. A single mutex guards all maps; updates are small.
type PassRecorder struct {
	mu  sync.Mutex
	log *log.Logger

	records        map[string]map[int]*StopPassRecord
	lastSeq        map[string]int
	updatedAt      map[string]int64
	trainByService map[string]string
	serviceByTrain map[string]string
}

// NewPassRecorder creates an empty recorder.
func NewPassRecorder(logger *log.Logger) *PassRecorder {
	return &PassRecorder{
		log:            logger,
		records:        map[string]map[int]*StopPassRecord{},
		lastSeq:        map[string]int{},
		updatedAt:      map[string]int64{},
		trainByService: map[string]string{},
		serviceByTrain: map[string]string{},
	}
}

// Record folds one built view into the recorder. Rows at or before
// lastPassedSeq get a pass record with epochs picked from the best
// available row field. forcedArrivals and forcedDepartures override the
// row-derived epochs, keyed by stop sequence; either may be nil.
func (r *PassRecorder) Record(serviceKey string, rows []StopRow, lastPassedSeq int, vehicleTS int64,
	forcedArrivals, forcedDepartures map[int]int64) {

	if serviceKey == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byService, present := r.records[serviceKey]
	if !present {
		byService = map[int]*StopPassRecord{}
		r.records[serviceKey] = byService
	}

	for i := range rows {
		row := &rows[i]
		forced := forcedArrivals[row.Seq] != 0 || forcedDepartures[row.Seq] != 0
		if row.Seq > lastPassedSeq && !forced {
			continue
		}
		record, present := byService[row.Seq]
		if !present {
			record = &StopPassRecord{StopSequence: row.Seq, StopID: row.StopID}
			byService[row.Seq] = record
		}
		if record.ArrivalEpoch == 0 {
			record.ArrivalEpoch = bestEpoch(row.PassedAtEpoch, row.TUArrEpoch, row.ETAArrEpoch, row.SchedArrEpoch)
		}
		if record.DepartureEpoch == 0 {
			record.DepartureEpoch = bestEpoch(row.PassedAtEpoch, row.TUDepEpoch, row.ETADepEpoch, row.SchedDepEpoch)
		}
		if at := forcedArrivals[row.Seq]; at != 0 {
			record.ArrivalEpoch = at
		}
		if at := forcedDepartures[row.Seq]; at != 0 {
			record.DepartureEpoch = at
		}
		if record.ArrivalEpoch != 0 && row.SchedArrEpoch != 0 {
			delay := int(record.ArrivalEpoch - row.SchedArrEpoch)
			record.ArrivalDelayS = &delay
		}
		if record.DepartureEpoch != 0 && row.SchedDepEpoch != 0 {
			delay := int(record.DepartureEpoch - row.SchedDepEpoch)
			record.DepartureDelayS = &delay
		}
	}

	if existing, present := r.lastSeq[serviceKey]; !present || lastPassedSeq > existing {
		r.lastSeq[serviceKey] = lastPassedSeq
	}
	if vehicleTS > r.updatedAt[serviceKey] {
		r.updatedAt[serviceKey] = vehicleTS
	}
}

func bestEpoch(candidates ...int64) int64 {
	for _, epoch := range candidates {
		if epoch != 0 {
			return epoch
		}
	}
	return 0
}

// LastSeq returns the highest recorded pass sequence for a service, -1
// when the service is unknown.
func (r *PassRecorder) LastSeq(serviceKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq, present := r.lastSeq[serviceKey]; present {
		return seq
	}
	return -1
}

// Records returns the service's pass records ordered by stop sequence.
func (r *PassRecorder) Records(serviceKey string) []StopPassRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	byService := r.records[serviceKey]
	results := make([]StopPassRecord, 0, len(byService))
	for _, record := range byService {
		results = append(results, *record)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StopSequence < results[j].StopSequence
	})
	return results
}

// LinkTrain binds a live train id to a service instance so later
// lookups by either key land on the same history.
func (r *PassRecorder) LinkTrain(serviceKey, trainID string) {
	if serviceKey == "" || trainID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, present := r.trainByService[serviceKey]; present && previous != trainID {
		delete(r.serviceByTrain, previous)
	}
	r.trainByService[serviceKey] = trainID
	r.serviceByTrain[trainID] = serviceKey
}

// ServiceForTrain returns the service instance a train id was last
// linked to, empty when unknown.
func (r *PassRecorder) ServiceForTrain(trainID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serviceByTrain[trainID]
}

// Sweep evicts services not updated within the record TTL.
func (r *PassRecorder) Sweep(now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for serviceKey, updated := range r.updatedAt {
		if now-updated <= passRecordTTLSeconds {
			continue
		}
		delete(r.records, serviceKey)
		delete(r.lastSeq, serviceKey)
		delete(r.updatedAt, serviceKey)
		if trainID, present := r.trainByService[serviceKey]; present {
			delete(r.serviceByTrain, trainID)
			delete(r.trainByService, serviceKey)
		}
	}
}

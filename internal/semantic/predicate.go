package semantic

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/storage"
)

// AnyPeerType matches peers of every type.
const AnyPeerType = "*"

// Predicate is an edge of the graph: a typed relation from a source entity
// to a target entity, with an optional payload.
type Predicate struct {
	id          string
	packageName string
	version     int64
	record      document.Document

	PredicateName string
	SourceID      string
	SourceType    string
	TargetID      string
	TargetType    string
	Payload       document.Document
	Timestamp     int64

	source       Entity
	target       Entity
	peer         Entity
	peerIsSource bool
}

func newPredicate(packageName string, rec document.Document) *Predicate {
	pr := &Predicate{packageName: packageName, record: rec.Clone()}
	delete(pr.record, "id")
	pr.sync()
	return pr
}

// sync copies the record into the typed fields.
func (pr *Predicate) sync() {
	rec := pr.record
	pr.id = rec.ID()
	pr.version = rec.Version()
	pr.PredicateName, _ = rec[fieldPredicateName].(string)
	pr.SourceID, _ = rec[fieldSourceID].(string)
	pr.SourceType, _ = rec[fieldSourceType].(string)
	pr.TargetID, _ = rec[fieldTargetID].(string)
	pr.TargetType, _ = rec[fieldTargetType].(string)
	pr.Timestamp, _ = document.AsInt64(rec[fieldTimestamp])
	pr.Payload = nil
	if m, ok := asObject(rec[fieldPayload]); ok {
		pr.Payload = document.Document(m)
	}
}

func (pr *Predicate) ID() string {
	return pr.id
}

func (pr *Predicate) Version() int64 {
	return pr.version
}

// Key returns a denormalized or self key stored on the record, such as
// _source_name.
func (pr *Predicate) Key(name string) any {
	return pr.record[name]
}

// Dto returns a copy of the stored record.
func (pr *Predicate) Dto() document.Document {
	dto := pr.record.Clone()
	dto[DtoID] = pr.id
	return dto
}

func (pr *Predicate) SemanticPackage() (*Package, error) {
	return lookupPackage(pr.packageName)
}

// Dcr returns the predicate's descriptor.
func (pr *Predicate) Dcr() (*PredicateDcr, error) {
	p, err := pr.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.ontology.Pdcr(pr.PredicateName)
}

// Peer returns the entity loaded for the far side of the query that
// produced the predicate, or nil.
func (pr *Predicate) Peer() Entity {
	return pr.peer
}

// PeerIsSource reports whether Peer is the source side.
func (pr *Predicate) PeerIsSource() bool {
	return pr.peerIsSource
}

func (pr *Predicate) setPeer(peer Entity, isSource bool) {
	pr.peer = peer
	pr.peerIsSource = isSource
	if peer == nil {
		return
	}
	if isSource {
		pr.source = peer
	} else {
		pr.target = peer
	}
}

// GetSource returns the source entity, loading it on first use.
func (pr *Predicate) GetSource(ctx context.Context, projection ...string) (Entity, error) {
	if pr.source == nil {
		e, err := pr.loadSide(ctx, pr.SourceID, projection)
		if err != nil {
			return nil, err
		}
		pr.source = e
	}
	return pr.source, nil
}

// GetTarget returns the target entity, loading it on first use.
func (pr *Predicate) GetTarget(ctx context.Context, projection ...string) (Entity, error) {
	if pr.target == nil {
		e, err := pr.loadSide(ctx, pr.TargetID, projection)
		if err != nil {
			return nil, err
		}
		pr.target = e
	}
	return pr.target, nil
}

func (pr *Predicate) loadSide(ctx context.Context, id string, projection []string) (Entity, error) {
	p, err := pr.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.LoadEntityByID(ctx, id, projection...)
}

// Change writes fields to the predicate record if its stored version
// still matches. A new payload is validated against the descriptor's
// payload template.
func (pr *Predicate) Change(ctx context.Context, fields document.Document) error {
	p, err := pr.SemanticPackage()
	if err != nil {
		return err
	}
	pd, err := p.ontology.Pdcr(pr.PredicateName)
	if err != nil {
		return err
	}
	changes, err := document.NormalizeDocument(fields)
	if err != nil {
		return fmt.Errorf("change predicate %s: %w", pr.id, err)
	}
	if raw, ok := changes[fieldPayload]; ok && pd.payload != nil {
		payload, _ := asObject(raw)
		validated, err := processTemplate(p, pd.payload, payload, writeOptions{}, pd.name, true)
		if err != nil {
			return fmt.Errorf("change predicate %s: %w", pr.id, err)
		}
		changes[fieldPayload] = validated
	}

	coll, err := p.PredicateCollection(ctx, pd)
	if err != nil {
		return err
	}
	if pr.version == 0 {
		rec, err := coll.FindByID(ctx, pr.id, document.FieldVersion)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("predicate %s: %w", pr.id, storage.ErrNotFound)
		}
		pr.version = rec.Version()
	}
	if err := coll.UpdateDocument(ctx, pr.id, changes, pr.version, nil); err != nil {
		return fmt.Errorf("change predicate %s: %w", pr.id, err)
	}
	for k, v := range changes {
		if k != document.FieldID && k != document.FieldVersion {
			pr.record[k] = v
		}
	}
	pr.record[document.FieldVersion] = pr.version + 1
	delete(pr.record, document.FieldLastUpdate)
	pr.sync()
	return nil
}

// Erase deletes the predicate.
func (pr *Predicate) Erase(ctx context.Context) (bool, error) {
	p, err := pr.SemanticPackage()
	if err != nil {
		return false, err
	}
	return p.DeletePredicate(ctx, pr)
}

// FindPredicatesOptions narrows a predicate query.
type FindPredicatesOptions struct {
	// PeerID keeps predicates whose far side is this entity.
	PeerID string
	// PeerTypes keeps predicates whose far side has one of these types.
	// AnyPeerType matches every type but still loads the peers.
	PeerTypes []string
	// Projection lists the peer fields to load. Setting it loads the
	// peers.
	Projection []string
}

// PredicateResult is the outcome of a predicate query. In entity-only
// mode Entities holds the peers and Predicates is empty.
type PredicateResult struct {
	Predicates    []*Predicate
	Entities      []Entity
	Total         int64
	TotalFiltered int64
	Opts          *storage.ReadOptions
}

// CreatePredicate links source to target with a predicate of the named
// type. Declared source and target keys are copied from the entities onto
// the record as _source_<field> and _target_<field>; selfKeys are stored
// as given and must not collide with other record fields.
func (p *Package) CreatePredicate(ctx context.Context, source Entity, predicate string, target Entity, payload, selfKeys document.Document) (*Predicate, error) {
	if source == nil || target == nil {
		return nil, logged(p.logger, &Error{
			Code:    ErrCodeMissingID,
			Message: "a predicate needs both a source and a target",
			Name:    predicate,
		})
	}
	pd, err := p.ontology.Pdcr(predicate)
	if err != nil {
		return nil, err
	}

	given, err := document.NormalizeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("create predicate %s: %w", predicate, err)
	}
	if pd.payload != nil {
		given, err = processTemplate(p, pd.payload, given, writeOptions{cut: true}, pd.name, false)
		if err != nil {
			return nil, fmt.Errorf("create predicate %s: %w", predicate, err)
		}
		if given, err = document.NormalizeDocument(given); err != nil {
			return nil, fmt.Errorf("create predicate %s: %w", predicate, err)
		}
	}

	now := p.now().UnixMilli()
	rec := document.Document{
		fieldPredicateName: pd.name,
		fieldSourceID:      source.ID(),
		fieldSourceType:    source.TypeName(),
		fieldTargetID:      target.ID(),
		fieldTargetType:    target.TypeName(),
		fieldTimestamp:     now,
	}
	rec[document.FieldCreated] = now
	if given != nil {
		rec[fieldPayload] = map[string]any(given)
	}

	sides := []struct {
		name   string
		entity Entity
		keys   []string
	}{
		{"target", target, pd.keys.Target},
		{"source", source, pd.keys.Source},
	}
	for _, side := range sides {
		if len(side.keys) == 0 {
			continue
		}
		vals, err := side.entity.GetFields(ctx, side.keys...)
		if err != nil {
			return nil, fmt.Errorf("create predicate %s: %s keys: %w", predicate, side.name, err)
		}
		for _, k := range side.keys {
			rec["_"+side.name+"_"+k] = vals[k]
		}
	}

	self, err := document.NormalizeDocument(selfKeys)
	if err != nil {
		return nil, fmt.Errorf("create predicate %s: %w", predicate, err)
	}
	for _, k := range document.SortedKeys(self) {
		if _, exists := rec[k]; exists {
			return nil, logged(p.logger, &Error{
				Code:    ErrCodeBadSelfKey,
				Message: fmt.Sprintf("bad predicate self-key %q: collides with a record field", k),
				Name:    predicate,
			})
		}
		rec[k] = self[k]
	}

	coll, err := p.PredicateCollection(ctx, pd)
	if err != nil {
		return nil, err
	}
	id, err := coll.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create predicate %s: %w", predicate, p.qualifyDuplicate(err, pd.name))
	}
	rec[document.FieldID] = id
	rec[document.FieldVersion] = storage.InitialVersion

	pr := newPredicate(p.name, rec)
	pr.source = source
	pr.target = target
	p.logger.Debug("created predicate", "id", id, "predicate", pd.name, "source", source.ID(), "target", target.ID())
	return pr, nil
}

// DeletePredicate removes pr from its collection.
func (p *Package) DeletePredicate(ctx context.Context, pr *Predicate) (bool, error) {
	pd, err := pr.Dcr()
	if err != nil {
		return false, err
	}
	coll, err := p.PredicateCollection(ctx, pd)
	if err != nil {
		return false, err
	}
	return coll.DeleteByID(ctx, pr.id)
}

// ExpandPredicate returns the predicate names a query by name matches.
func (p *Package) ExpandPredicate(name string) ([]string, error) {
	pd, err := p.ontology.Pdcr(name)
	if err != nil {
		return nil, err
	}
	return p.ontology.Expand(pd), nil
}

// FindPredicates returns the predicates of the named type (and its direct
// children) attached to entityID: those targeting it when incoming, those
// it is the source of otherwise. An empty name matches every type.
func (p *Package) FindPredicates(ctx context.Context, incoming bool, predicate, entityID string, opts FindPredicatesOptions) ([]*Predicate, error) {
	res, err := p.LoadPredicates(ctx, incoming, predicate, entityID, opts, nil)
	if err != nil {
		return nil, err
	}
	return res.Predicates, nil
}

// PagePredicates is FindPredicates restricted to one page. page's
// projection applies to the peers, like opts.Projection.
func (p *Package) PagePredicates(ctx context.Context, incoming bool, predicate, entityID string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error) {
	if page == nil {
		page = &storage.ReadOptions{}
	}
	return p.LoadPredicates(ctx, incoming, predicate, entityID, opts, page)
}

// LoadPredicates queries predicates attached to entityID and loads their
// peers when a peer projection, a peer type filter or entity-only paging
// asks for them. Results keep the query order. A nil page reads every
// match.
func (p *Package) LoadPredicates(ctx context.Context, incoming bool, predicate, entityID string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error) {
	var (
		pd    *PredicateDcr
		names []string
		err   error
	)
	if predicate != "" {
		if pd, err = p.ontology.Pdcr(predicate); err != nil {
			return nil, err
		}
		names = p.ontology.Expand(pd)
	}

	selfField, peerSide := fieldSourceID, "target"
	if incoming {
		selfField, peerSide = fieldTargetID, "source"
	}
	peerIDField, peerTypeField := peerSide+"Id", peerSide+"Type"

	typed := len(opts.PeerTypes) > 0 && !slices.Contains(opts.PeerTypes, AnyPeerType)
	filters := []query.Filter{query.Eq{Field: selfField, Value: entityID}}
	if len(names) > 0 {
		filters = append([]query.Filter{query.OneOf(fieldPredicateName, names...)}, filters...)
	}
	if typed {
		filters = append(filters, query.OneOf(peerTypeField, opts.PeerTypes...))
	}
	if opts.PeerID != "" {
		filters = append(filters, query.Eq{Field: peerIDField, Value: opts.PeerID})
	}
	filter := query.All(filters...)

	projection := opts.Projection
	var read *storage.ReadOptions
	if page != nil {
		cp := *page
		projection = append(slices.Clone(page.Projection), opts.Projection...)
		cp.Projection = nil
		read = &cp
	}
	entityOnly := read != nil && read.EntityOnly
	enrich := len(projection) > 0 || len(opts.PeerTypes) > 0 || entityOnly

	res := &PredicateResult{Total: -1}
	var recs []document.Document
	if read != nil {
		loaded, err := p.loadPredicatePage(ctx, p.queryCollections(pd, names), read, filter)
		if err != nil {
			return nil, fmt.Errorf("load predicates of %s: %w", entityID, err)
		}
		recs = loaded.Items
		res.Total = loaded.Total
		res.TotalFiltered = loaded.TotalFiltered
		res.Opts = page
	} else {
		for _, name := range p.queryCollections(pd, names) {
			coll, err := p.collections.PredicateCollection(ctx, name)
			if err != nil {
				return nil, err
			}
			found, err := coll.FindSome(ctx, filter, nil)
			if err != nil {
				return nil, fmt.Errorf("find predicates of %s: %w", entityID, err)
			}
			recs = append(recs, found...)
		}
		res.TotalFiltered = int64(len(recs))
	}

	for _, rec := range recs {
		pr := newPredicate(p.name, rec)
		pr.peerIsSource = incoming
		if enrich {
			peerType, _ := rec[peerTypeField].(string)
			if !typed || slices.Contains(opts.PeerTypes, peerType) {
				peerID, _ := rec[peerIDField].(string)
				peer, err := p.LoadEntityByID(ctx, peerID, projection...)
				if err != nil {
					return nil, fmt.Errorf("load peer of predicate %s: %w", pr.id, err)
				}
				pr.setPeer(peer, incoming)
			}
		}
		if entityOnly {
			if pr.peer != nil {
				res.Entities = append(res.Entities, pr.peer)
			}
			continue
		}
		res.Predicates = append(res.Predicates, pr)
	}
	return res, nil
}

// loadPredicatePage reads one page of matches across the named
// collections. The collections are read in order, so a page spanning two
// of them holds the tail of the first and the head of the second; sort
// keys order records within a collection only.
func (p *Package) loadPredicatePage(ctx context.Context, names []string, read *storage.ReadOptions, filter query.Filter) (*storage.ReadResult, error) {
	out := &storage.ReadResult{Total: -1, Opts: read}
	skip, remaining := read.From, read.Count
	for _, name := range names {
		coll, err := p.collections.PredicateCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		cp := *read
		cp.From, cp.Count = skip, remaining
		full := read.Count > 0 && remaining == 0
		if full {
			// Only the count is needed from here on.
			cp.From, cp.Count = 0, 1
		}
		loaded, err := coll.Load(ctx, &cp, filter)
		if err != nil {
			return nil, err
		}
		out.TotalFiltered += loaded.TotalFiltered
		if full {
			continue
		}
		out.Items = append(out.Items, loaded.Items...)
		skip = max(0, skip-int(loaded.TotalFiltered))
		if read.Count > 0 {
			remaining -= len(loaded.Items)
		}
	}
	return out, nil
}

// queryCollections lists the collections holding predicates named in
// names, or every predicate collection when pd is nil.
func (p *Package) queryCollections(pd *PredicateDcr, names []string) []string {
	if pd == nil {
		return p.predicateCollectionNames()
	}
	out := []string{p.collections.PredicateCollectionName(pd)}
	for _, n := range names {
		if d, ok := p.ontology.predicates[n]; ok {
			name := p.collections.PredicateCollectionName(d)
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// PredicatesBetween returns the predicates from source to target, and
// from target to source as well when bidirectional. An empty name matches
// every type.
func (p *Package) PredicatesBetween(ctx context.Context, source, target Entity, bidirectional bool, predicate string) ([]*Predicate, error) {
	if source == nil || target == nil {
		return nil, nil
	}
	pair := func(from, to string) query.Filter {
		return query.All(query.Eq{Field: fieldSourceID, Value: from}, query.Eq{Field: fieldTargetID, Value: to})
	}
	filter := pair(source.ID(), target.ID())
	if bidirectional {
		filter = query.Or{Filters: []query.Filter{filter, pair(target.ID(), source.ID())}}
	}

	var pd *PredicateDcr
	if predicate != "" {
		var err error
		if pd, err = p.ontology.Pdcr(predicate); err != nil {
			return nil, err
		}
		filter = query.All(filter, query.Eq{Field: fieldPredicateName, Value: predicate})
	}

	var out []*Predicate
	for _, name := range p.queryCollections(pd, nil) {
		coll, err := p.collections.PredicateCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		recs, err := coll.FindSome(ctx, filter, nil)
		if err != nil {
			return nil, fmt.Errorf("predicates between %s and %s: %w", source.ID(), target.ID(), err)
		}
		for _, rec := range recs {
			out = append(out, newPredicate(p.name, rec))
		}
	}
	return out, nil
}

// DeleteAllEntityPredicates removes every predicate whose source or
// target is entityID, from every predicate collection of the package, and
// returns how many were removed.
func (p *Package) DeleteAllEntityPredicates(ctx context.Context, entityID string) (int64, error) {
	filter := query.Or{Filters: []query.Filter{
		query.Eq{Field: fieldSourceID, Value: entityID},
		query.Eq{Field: fieldTargetID, Value: entityID},
	}}
	var total int64
	for _, name := range p.predicateCollectionNames() {
		coll, err := p.collections.PredicateCollection(ctx, name)
		if err != nil {
			return total, err
		}
		n, err := coll.DeleteByQuery(ctx, filter)
		if err != nil {
			return total, fmt.Errorf("delete predicates of %s: %w", entityID, err)
		}
		total += n
	}
	return total, nil
}

// PredicateByID finds a predicate in this package's collections, then in
// each parent package. It returns nil when none has it.
func (p *Package) PredicateByID(ctx context.Context, id string) (*Predicate, error) {
	for _, name := range p.predicateCollectionNames() {
		coll, err := p.collections.PredicateCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		rec, err := coll.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return newPredicate(p.name, rec), nil
		}
	}
	for _, parent := range p.parents {
		pr, err := parent.PredicateByID(ctx, id)
		if err != nil || pr != nil {
			return pr, err
		}
	}
	return nil, nil
}

// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package fastimport

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/lfs"
)

// Service is the fast-import pipeline: it streams blob writes and deletions
// into a new commit through the importer protocol, with deduplication
// against prior commits, optional tile conversion, and worker parallelism
// for tile handling. All object store mutation in the engine funnels through
// here.
type Service struct {
	log       zerolog.Logger
	store     *gitstore.Store
	codec     *kbor.Codec
	importer  kart.Importer
	cache     *lfs.Cache
	converter Converter
}

// New creates the import pipeline.
func New(log zerolog.Logger, store *gitstore.Store, codec *kbor.Codec, importer kart.Importer, cache *lfs.Cache, options ...func(*Service)) *Service {

	s := Service{
		log:       log.With().Str("component", "fastimport").Logger(),
		store:     store,
		codec:     codec,
		importer:  importer,
		cache:     cache,
		converter: NewSniffConverter(log),
	}
	for _, option := range options {
		option(&s)
	}

	return &s
}

// WithConverter overrides the tile converter, which is how imports gain
// support for an external conversion tool.
func WithConverter(converter Converter) func(*Service) {
	return func(s *Service) {
		s.converter = converter
	}
}

// run wraps one import: it validates options, opens the importer stream on a
// temporary reference, lets the body stream content, and finalizes the
// commit onto the destination branch. The temporary reference is deleted on
// every exit path; a failed body aborts the stream so no partial commit ever
// reaches a user-visible reference.
func (s *Service) run(opts Options, destDesc string, body func(stream kart.ImportStream, fromTree kart.OID) error) (kart.OID, error) {

	err := opts.Validate()
	if err != nil {
		return kart.ZeroOID, err
	}
	if opts.Author.Name == "" || opts.Committer.Name == "" {
		return kart.ZeroOID, kart.NewNotFound(kart.ExitNoUser, "author and committer must be configured before committing")
	}

	// When we are replacing everything, we start from scratch.
	if opts.ReplaceExisting == ReplaceAll {
		opts.FromCommit = kart.ZeroOID
	}

	fromTree, err := s.store.EmptyTree()
	if err != nil {
		return kart.ZeroOID, err
	}
	if !opts.FromCommit.IsZero() {
		fromTree, err = s.store.CommitTree(opts.FromCommit)
		if err != nil {
			return kart.ZeroOID, fmt.Errorf("could not resolve from commit: %w", err)
		}
	}

	message := opts.Message
	if message == "" {
		message = "Import " + destDesc
	}

	// Import onto a temporary reference, then move the destination branch
	// afterwards. The temporary reference is always cleaned up.
	ref := gitstore.TempImportRef()
	defer func() {
		err := s.store.DeleteRef(ref)
		if err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("could not delete temporary import reference")
		}
	}()

	stream, err := s.importer.Start(ref)
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not start importer: %w", err)
	}

	err = WriteHeader(stream, ref, opts.Author, opts.Committer, message, opts.FromCommit)
	if err == nil {
		err = body(stream, fromTree)
	}
	if err != nil {
		_ = stream.Abort()
		return kart.ZeroOID, err
	}
	err = stream.Done()
	if err != nil {
		return kart.ZeroOID, kart.NewSubprocessError(err, "import stream failed")
	}

	imported, err := s.store.Ref(ref)
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not resolve imported commit: %w", err)
	}
	importedCommit, err := s.store.Commit(imported)
	if err != nil {
		return kart.ZeroOID, err
	}

	if importedCommit.Tree == fromTree && !opts.AllowEmpty {
		return kart.ZeroOID, kart.NewNoChanges("no changes to commit")
	}

	// Reuse the commit details we already imported, but fix up the parent
	// links and land the commit on the destination branch.
	parents := importedCommit.Parents
	if opts.Amend {
		fromCommit, err := s.store.Commit(opts.FromCommit)
		if err != nil {
			return kart.ZeroOID, err
		}
		parents = fromCommit.Parents
	}
	final := gitstore.Commit{
		Tree:      importedCommit.Tree,
		Parents:   parents,
		Author:    importedCommit.Author,
		Committer: importedCommit.Committer,
		Message:   importedCommit.Message,
	}
	oid, err := s.store.PutCommit(&final)
	if err != nil {
		return kart.ZeroOID, err
	}

	if opts.Branch != "" {
		err = s.store.SetRef(opts.Branch, oid)
	} else {
		err = s.store.AdvanceHead(oid)
	}
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not advance branch: %w", err)
	}

	s.log.Info().Str("commit", oid.Hex()).Msg("import committed")
	return oid, nil
}

// ImportTables imports all of the given table sources as datasets and
// commits the result.
func (s *Service) ImportTables(sources []kart.TableSource, opts Options) (kart.OID, error) {

	if len(sources) == 0 {
		return kart.ZeroOID, kart.NewNotFound(kart.ExitNoImportSource, "no import sources given")
	}
	seen := make(map[string]struct{})
	var dests []string
	for _, source := range sources {
		err := kart.CheckDatasetPath(source.DestPath())
		if err != nil {
			return kart.ZeroOID, err
		}
		_, ok := seen[source.DestPath()]
		if ok {
			return kart.ZeroOID, kart.NewInvalidArgument("multiple sources import to %q", source.DestPath())
		}
		seen[source.DestPath()] = struct{}{}
		dests = append(dests, source.DestPath())
	}

	return s.run(opts, strings.Join(dests, ", "), func(stream kart.ImportStream, fromTree kart.OID) error {

		view, err := dataset.FromTree(s.log, s.store, s.codec, fromTree)
		if err != nil {
			return err
		}

		for _, source := range sources {
			dest := source.DestPath()

			if opts.ReplaceExisting == ReplaceNone {
				entry, err := s.store.EntryByPath(fromTree, dest)
				if err != nil {
					return err
				}
				if entry != nil {
					return kart.NewInvalidOperation("cannot import to %s/ - already exists in repository", dest)
				}
			}

			var replacing *dataset.Dataset
			if opts.ReplaceExisting == ReplaceGiven {
				replacing, err = view.Get(dest)
				if err != nil && kart.ExitCode(err) != kart.ExitNoTable {
					return err
				}
				err = nil
			}

			err = s.importTable(stream, source, replacing, opts)
			if err != nil {
				return fmt.Errorf("could not import %s: %w", dest, err)
			}
		}
		return nil
	})
}

func (s *Service) importTable(stream kart.ImportStream, source kart.TableSource, replacing *dataset.Dataset, opts Options) error {

	dest := source.DestPath()
	inner := dataset.InnerPath(dest, dataset.KindTabular)
	schema := source.Schema()
	legend := kbor.LegendForSchema(schema)
	legendID, legendData, err := s.codec.LegendID(legend)
	if err != nil {
		return err
	}

	// Clear out the appropriate trees before importing any actual data over
	// the top. A full replace deletes the whole dataset; a by-ID replace
	// only clears the meta tree and carries the legend blobs over by OID, so
	// surviving features keep decoding.
	fullReplace := false
	if replacing != nil {
		if opts.ReplaceIDs == nil {
			err = DeletePath(stream, dest)
			if err != nil {
				return err
			}
			fullReplace = true
		} else {
			err = DeletePath(stream, inner+"/"+dataset.MetaPrefix)
			if err != nil {
				return err
			}
			legends, err := replacing.LegendBlobs()
			if err != nil {
				return err
			}
			for name, oid := range legends {
				err = CopyExistingBlob(stream, inner+"/"+dataset.LegendPrefix+"/"+name, oid)
				if err != nil {
					return err
				}
			}
		}
	}

	var iter kart.FeatureIter
	if opts.ReplaceIDs != nil {
		// As we stream the IDs, also delete their blobs, so replaced
		// features disappear even when the source no longer has them.
		for _, id := range opts.ReplaceIDs {
			rel, err := dataset.FeatureRelPath(s.codec, pkValuesForID(schema, id))
			if err != nil {
				return err
			}
			err = DeletePath(stream, inner+"/"+rel)
			if err != nil {
				return err
			}
		}
		iter, err = source.FeaturesByID(opts.ReplaceIDs, true)
	} else {
		iter, err = source.Features()
	}
	if err != nil {
		return fmt.Errorf("could not open feature stream: %w", err)
	}
	defer source.Close()

	// Only compare against old features when deduplication is actually
	// possible; see the should-compare heuristic.
	compare := false
	if replacing != nil && !fullReplace {
		compare, err = s.shouldCompareFeatures(source, replacing, opts.FromCommit)
		if err != nil {
			return err
		}
	}

	count := 0
	for {
		if opts.Limit > 0 && count == opts.Limit {
			s.log.Info().Int("limit", opts.Limit).Str("dataset", dest).Msg("stopping at feature limit")
			break
		}
		feature, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("could not read feature: %w", err)
		}

		data, err := s.codec.EncodeFeature(schema, []byte(legendID), feature)
		if err != nil {
			return err
		}
		pkValues := schema.PKValues(feature)
		rel, err := dataset.FeatureRelPath(s.codec, pkValues)
		if err != nil {
			return err
		}

		if compare {
			oldOID, err := replacing.FeatureBlob(pkValues)
			if err != nil {
				return err
			}
			if !oldOID.IsZero() && oldOID == gitstore.HashObject(gitstore.TypeBlob, data) {
				// Bytes would be identical; the replaced ID was deleted
				// above, so put the existing blob back by OID.
				err = CopyExistingBlob(stream, inner+"/"+rel, oldOID)
				if err != nil {
					return err
				}
				count++
				continue
			}
		}

		err = WriteBlob(stream, inner+"/"+rel, data)
		if err != nil {
			return err
		}
		featuresImported.Inc()
		bytesStreamed.Add(float64(len(data)))
		count++
	}

	// Meta items are written last, since certain importers generate extra
	// metadata as they stream features.
	return s.writeTableMeta(stream, source, inner, schema, legendID, legendData)
}

func (s *Service) writeTableMeta(stream kart.ImportStream, source kart.TableSource, inner string, schema kart.Schema, legendID string, legendData []byte) error {

	schemaJSON, err := schema.ToJSON()
	if err != nil {
		return err
	}
	canonical, err := kbor.CanonicalizeMeta("schema.json", schemaJSON)
	if err != nil {
		return err
	}
	err = WriteBlob(stream, inner+"/"+dataset.MetaRelPath("schema.json"), canonical)
	if err != nil {
		return err
	}
	err = WriteBlob(stream, inner+"/"+dataset.LegendRelPath(legendID), legendData)
	if err != nil {
		return err
	}

	for name, contents := range source.Meta() {
		canonical, err := kbor.CanonicalizeMeta(name, contents)
		if err != nil {
			return fmt.Errorf("could not canonicalize meta item %q: %w", name, err)
		}
		err = WriteBlob(stream, inner+"/"+dataset.MetaRelPath(name), canonical)
		if err != nil {
			return err
		}
	}
	return nil
}

// pkValuesForID converts a user-supplied primary key string back into a
// primary key tuple. Multi-column keys are comma-joined, matching the key
// rendering used by diffs and filters.
func pkValuesForID(schema kart.Schema, id string) []interface{} {
	pks := schema.PKColumns()
	if len(pks) <= 1 {
		return []interface{}{id}
	}
	parts := strings.SplitN(id, ",", len(pks))
	values := make([]interface{}, 0, len(parts))
	for _, part := range parts {
		values = append(values, part)
	}
	return values
}

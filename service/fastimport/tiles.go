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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/lfs"
)

type tileTask struct {
	path     string
	tilename string
	format   string
}

type tileResult struct {
	tilename string
	pointer  *lfs.Pointer
	err      error
}

// ImportTiles imports all of the given tile sources as datasets of the
// given kind and commits the result. Tile metadata extraction and tile
// conversion/copying both run on a bounded worker pool; all stream writes
// stay on the calling goroutine, since the stream is not thread-safe.
func (s *Service) ImportTiles(sources []kart.TileSource, kind dataset.Kind, opts Options) (kart.OID, error) {

	if !kind.IsTile() {
		return kart.ZeroOID, kart.NewInvalidArgument("dataset kind %s does not hold tiles", kind)
	}
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

			err = s.importTileSource(stream, source, kind, replacing, opts)
			if err != nil {
				return fmt.Errorf("could not import %s: %w", dest, err)
			}
		}
		return nil
	})
}

func (s *Service) importTileSource(stream kart.ImportStream, source kart.TileSource, kind dataset.Kind, replacing *dataset.Dataset, opts Options) error {

	dest := source.DestPath()
	inner := dataset.InnerPath(dest, kind)
	defer source.Close()

	paths, err := source.Paths()
	if err != nil {
		return fmt.Errorf("could not list tiles: %w", err)
	}

	// Extract per-tile metadata on the worker pool. Formats feed the
	// homogeneity check, which needs every tile before anything is written.
	tasks, err := s.extractTileMetadata(paths, opts.workers())
	if err != nil {
		return err
	}

	// Merge the dataset-level format across all tiles, predicting the
	// post-conversion format when conversion is requested. The prior
	// dataset's format participates when we are replacing into it.
	formats := make([]map[string]string, 0, len(tasks)+1)
	for _, task := range tasks {
		format := task.format
		if opts.ConvertToCloudOptimized {
			format = s.converter.CloudOptimizedVariant(format)
		}
		formats = append(formats, map[string]string{"format": format})
	}
	if replacing != nil && opts.ReplaceIDs == nil {
		// Full replace discards the old format along with the old tiles.
	} else if replacing != nil {
		existing, err := replacing.MetaItem("format.json")
		if err == nil {
			var parsed struct {
				Format string `json:"format"`
			}
			err = json.Unmarshal(existing, &parsed)
			if err == nil && parsed.Format != "" {
				formats = append(formats, map[string]string{"format": parsed.Format})
			}
		}
	}
	merged, err := mergeTileMetadata(formats)
	if err != nil {
		return err
	}
	datasetFormat := merged["format"]

	fullReplace := false
	if replacing != nil && opts.ReplaceIDs == nil {
		err = DeletePath(stream, dest)
		if err != nil {
			return err
		}
		fullReplace = true
	}

	// Convert, hash and copy tiles into the LFS cache on the worker pool.
	// Results arrive in completion order through the queue; this goroutine
	// is the single writer draining it into the stream.
	results, total := s.convertAndCacheTiles(tasks, opts)
	written := 0
	var failure error
	for i := 0; i < total; i++ {
		<-results.notify
		result := results.queue.PopFront()
		if result == nil {
			continue
		}
		if result.err != nil {
			// Record the first failure; in-flight conversions finish and
			// their outputs are discarded.
			if failure == nil {
				failure = result.err
			}
			continue
		}
		if failure != nil {
			continue
		}

		if replacing != nil && !fullReplace {
			existing, err := replacing.TilePointer(result.tilename)
			if err == nil && existing.OID == result.pointer.OID {
				continue
			}
		}
		err = WriteBlob(stream, inner+"/"+dataset.TileRelPath(result.tilename), result.pointer.Encode())
		if err != nil {
			failure = err
			continue
		}
		tilesImported.Inc()
		written++
	}
	if failure != nil {
		return failure
	}
	s.log.Info().Int("tiles", written).Str("dataset", dest).Msg("tiles streamed")

	// Meta items are written last.
	return s.writeTileMeta(stream, source, inner, datasetFormat)
}

// extractTileMetadata runs format detection for all tiles on a bounded pool.
func (s *Service) extractTileMetadata(paths []string, workers int) ([]tileTask, error) {

	tasks := make([]tileTask, len(paths))
	var g errgroup.Group
	slots := make(chan struct{}, workers)
	for i, path := range paths {
		i, path := i, path
		slots <- struct{}{}
		g.Go(func() error {
			defer func() { <-slots }()
			format, err := s.converter.Detect(path)
			if err != nil {
				return fmt.Errorf("could not detect format of %s: %w", path, err)
			}
			tasks[i] = tileTask{
				path:     path,
				tilename: tilenameFromPath(path),
				format:   format,
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		_, ok := names[task.tilename]
		if ok {
			return nil, kart.NewInvalidArgument("multiple tiles named %q in import", task.tilename)
		}
		names[task.tilename] = struct{}{}
	}
	return tasks, nil
}

type tileResults struct {
	queue  *resultQueue
	notify chan struct{}
}

// convertAndCacheTiles fans the tile tasks out to the worker pool. Each
// worker hashes its tile, converts it if needed, lands the object in the LFS
// cache, and queues the finished pointer. The notify channel is buffered to
// the task count so workers never block after the writer bails out.
func (s *Service) convertAndCacheTiles(tasks []tileTask, opts Options) (*tileResults, int) {

	results := tileResults{
		queue:  newResultQueue(),
		notify: make(chan struct{}, len(tasks)),
	}

	feed := make(chan tileTask)
	var wg sync.WaitGroup
	for i := 0; i < opts.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range feed {
				result := s.processTile(task, opts)
				results.queue.PushBack(result)
				results.notify <- struct{}{}
			}
		}()
	}
	go func() {
		for _, task := range tasks {
			feed <- task
		}
		close(feed)
		wg.Wait()
	}()

	return &results, len(tasks)
}

func (s *Service) processTile(task tileTask, opts Options) *tileResult {

	result := tileResult{tilename: task.tilename}

	sourceSha, _, err := lfs.HashFile(task.path)
	if err != nil {
		result.err = err
		return &result
	}

	extra := map[string]string{lfs.KeyFormat: task.format}
	storePath := task.path
	if opts.ConvertToCloudOptimized && !s.converter.CloudOptimized(task.format) {
		// Conversions write to a uuid-named temp path; the temp file is
		// discarded once the object is safely in the cache.
		converted := filepath.Join(os.TempDir(), uuid.New().String()+".tmp")
		err = s.converter.Convert(task.path, converted)
		if err != nil {
			result.err = err
			return &result
		}
		defer os.Remove(converted)
		storePath = converted
		extra[lfs.KeyFormat] = s.converter.CloudOptimizedVariant(task.format)
		extra[lfs.KeySourceOID] = "sha256:" + sourceSha
		tilesConverted.Inc()
	}

	sha, size, err := s.cache.Store(storePath)
	if err != nil {
		result.err = err
		return &result
	}

	result.pointer = &lfs.Pointer{
		OID:   "sha256:" + sha,
		Size:  size,
		Extra: extra,
	}
	return &result
}

func (s *Service) writeTileMeta(stream kart.ImportStream, source kart.TileSource, inner string, format string) error {

	formatJSON := fmt.Sprintf(`{"format":%q}`, format)
	canonical, err := kbor.CanonicalizeMeta("format.json", []byte(formatJSON))
	if err != nil {
		return err
	}
	err = WriteBlob(stream, inner+"/"+dataset.MetaRelPath("format.json"), canonical)
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

func tilenameFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

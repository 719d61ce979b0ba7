package lib

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/blevesearch/bleve"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

func Exists(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	} else if os.IsNotExist(err) {
		return false
	}

	return true
}

/*
	return an encoded object as bytes
*/
func Marshal(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	err := gob.NewEncoder(b).Encode(v)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

/*
	return a decoded object from bytes
*/
func Unmarshal(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	return gob.NewDecoder(b).Decode(v)
}

/*
	Catalog indexes the cells of layout files so they can be searched
	by name or layer without re-parsing the streams.
*/
type Catalog struct {
	root  string
	db    *bolt.DB
	index bleve.Index
}

type CatalogEntry struct {
	Name        string
	File        string
	Polygons    int
	Paths       int
	References  int
	Labels      int
	Layers      []uint32
	Description string
}

func entryKey(entry *CatalogEntry) []byte {
	return []byte(entry.File + "/" + entry.Name)
}

/*
	Create or open a catalog rooted at the given directory
*/
func OpenCatalog(root string) (*Catalog, error) {
	db, err := bolt.Open(filepath.Join(root, "GDSX.db"), 0777, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog database")
	}

	db.Update(func(tx *bolt.Tx) error {
		tx.CreateBucketIfNotExists([]byte("cells"))
		tx.CreateBucketIfNotExists([]byte("libraries"))

		return nil
	})

	var index bleve.Index
	ipath := filepath.Join(root, "GDSX.index")
	if Exists(ipath) {
		index, err = bleve.Open(ipath)
	} else {
		index, err = bleve.New(ipath, bleve.NewIndexMapping())
	}
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "open catalog index")
	}

	return &Catalog{
		root:  root,
		db:    db,
		index: index,
	}, nil
}

func catalogEntries(file string, library *Library) []*CatalogEntry {
	entries := make([]*CatalogEntry, 0, len(library.Cells))
	for _, cell := range library.Cells {
		layers := map[uint32]bool{}
		for _, polygon := range cell.Polygons {
			layers[polygon.Layer] = true
		}
		for _, path := range cell.FlexPaths {
			for _, el := range path.Elements {
				layers[el.Layer] = true
			}
		}
		for _, path := range cell.RobustPaths {
			for _, el := range path.Elements {
				layers[el.Layer] = true
			}
		}
		for _, label := range cell.Labels {
			layers[label.Layer] = true
		}
		sorted := make([]uint32, 0, len(layers))
		for layer := range layers {
			sorted = append(sorted, layer)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		entries = append(entries, &CatalogEntry{
			Name:       cell.Name,
			File:       file,
			Polygons:   len(cell.Polygons),
			Paths:      len(cell.FlexPaths) + len(cell.RobustPaths),
			References: len(cell.References),
			Labels:     len(cell.Labels),
			Layers:     sorted,
			Description: fmt.Sprintf("%s %s polygons=%d paths=%d refs=%d labels=%d",
				cell.Name, file, len(cell.Polygons),
				len(cell.FlexPaths)+len(cell.RobustPaths),
				len(cell.References), len(cell.Labels)),
		})
	}
	return entries
}

/*
	Index every cell of a parsed library under the given file name
*/
func (c *Catalog) IndexLibrary(file string, library *Library) error {
	entries := catalogEntries(file, library)

	err := c.db.Update(func(tx *bolt.Tx) error {
		cells := tx.Bucket([]byte("cells"))
		libraries := tx.Bucket([]byte("libraries"))

		for _, entry := range entries {
			data, err := Marshal(entry)
			if err != nil {
				return err
			}
			if err := cells.Put(entryKey(entry), data); err != nil {
				return err
			}
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name)
		}
		data, err := Marshal(names)
		if err != nil {
			return err
		}
		return libraries.Put([]byte(file), data)
	})
	if err != nil {
		return errors.Wrap(err, "store catalog entries")
	}

	for _, entry := range entries {
		if err := c.index.Index(string(entryKey(entry)), *entry); err != nil {
			return errors.Wrap(err, "index catalog entry")
		}
	}
	return nil
}

/*
	Find catalog entries, given a search string
*/
func (c *Catalog) Find(text string) []*CatalogEntry {
	query := bleve.NewMatchQuery(text)

	request := bleve.NewSearchRequest(query)
	request.Size = 100
	result, err := c.index.Search(request)
	if err != nil {
		return []*CatalogEntry{}
	}

	entries := []*CatalogEntry{}
	c.db.View(func(tx *bolt.Tx) error {
		cells := tx.Bucket([]byte("cells"))
		for _, hit := range result.Hits {
			data := cells.Get([]byte(hit.ID))
			if data == nil {
				continue
			}
			entry := &CatalogEntry{}
			if err := Unmarshal(data, entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries
}

/*
	CellNames lists the indexed cell names of one file
*/
func (c *Catalog) CellNames(file string) []string {
	names := []string{}
	c.db.View(func(tx *bolt.Tx) error {
		libraries := tx.Bucket([]byte("libraries"))
		data := libraries.Get([]byte(file))
		if data != nil {
			Unmarshal(data, &names)
		}
		return nil
	})
	return names
}

func (c *Catalog) Close() error {
	c.index.Close()
	return c.db.Close()
}

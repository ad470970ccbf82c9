// Package migrate detects record shape changes and converts live records.
//
// A migratable record registers a shape function: a hot function, stored in
// the hotfn.Table under "shape/<key>", returning the record's currently
// compiled Go type. A patch that changes the record's layout also redirects
// the shape function, so the engine sees the new type on the next
// DetectAndMigrate.
//
// Conversion is keyed purely by field name and driven by a field table
// (Layout) built once per Go type:
//
//   - identical field types are copied
//   - numeric, bool and string fields are converted within their class when
//     the value fits
//   - struct fields are migrated recursively
//   - anything else is dropped; fields without a source take their declared
//     default (struct tag `default:"..."`, zero otherwise)
//
// An instance that cannot be converted at all becomes the new shape's
// default. Every live instance of a changed record is converted in one pass,
// in ascending entity order, and replaced in place: the entity and its other
// components are untouched.
package migrate

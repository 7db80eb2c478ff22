package model

// TVShow represents one row of the read-only `tv_shows` table.  Rows are
// created and maintained outside this application.
//
// Fields:
//  ID           – tvid, primary key.
//  Name         – display name of the show.
//  Rating       – numeric rating.
//  Image        – URL of the poster image.
//  Summary      – HTML summary text.
//  OfficialSite – URL of the show's website; empty when unknown (NULL is
//                 read as empty).
type TVShow struct {
    ID           int64   // tv_shows.tvid
    Name         string  // tv_shows.name
    Rating       float64 // tv_shows.rating
    Image        string  // tv_shows.image
    Summary      string  // tv_shows.summary
    OfficialSite string  // tv_shows.official_site
}

// HasOfficialSite reports whether OfficialSite is non-empty.
func (s TVShow) HasOfficialSite() bool { return s.OfficialSite != "" }

// TVShowName is the (tvid, name) pair shown on the index page.
type TVShowName struct {
    ID   int64  // tv_shows.tvid
    Name string // tv_shows.name
}

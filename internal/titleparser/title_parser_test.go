package titleparser

import "testing"

func TestParseSeasonEpisodeAndTrimsTitle(t *testing.T) {
	mi := Parse("Show.Name.S01E02.1080p.BluRay.x264-GROUP")

	if mi.FromSeason != 1 || mi.ToSeason != 1 {
		t.Errorf("FromSeason/ToSeason = %d/%d, want 1/1", mi.FromSeason, mi.ToSeason)
	}
	if mi.Episode != 2 {
		t.Errorf("Episode = %d, want 2", mi.Episode)
	}
	if mi.Resolution != 1080 {
		t.Errorf("Resolution = %d, want 1080", mi.Resolution)
	}
	if mi.Quality != "bluray" {
		t.Errorf("Quality = %q, want %q", mi.Quality, "bluray")
	}
	if mi.Codec != "x264" {
		t.Errorf("Codec = %q, want %q", mi.Codec, "x264")
	}
	if mi.Title != "Show.Name." {
		t.Errorf("Title = %q, want %q", mi.Title, "Show.Name.")
	}
}

func TestParseMovieYearAndResolution(t *testing.T) {
	mi := Parse("Movie.Title.2020.1080p.BluRay.x264-GROUP")

	if mi.Year != 2020 {
		t.Errorf("Year = %d, want 2020", mi.Year)
	}
	if mi.Resolution != 1080 {
		t.Errorf("Resolution = %d, want 1080", mi.Resolution)
	}
	if mi.Quality != "bluray" {
		t.Errorf("Quality = %q, want %q", mi.Quality, "bluray")
	}
	if mi.Title != "Movie.Title." {
		t.Errorf("Title = %q, want %q", mi.Title, "Movie.Title.")
	}
}

func Test4KResolutionAlias(t *testing.T) {
	mi := Parse("Movie.Title.2020.4K.WEB-DL.x265-GROUP")
	if mi.Resolution != 2160 {
		t.Errorf("Resolution = %d, want 2160 for 4K alias", mi.Resolution)
	}
}

func TestParseRemux(t *testing.T) {
	mi := Parse("Show.Name.S02E05.2160p.BluRay.REMUX.x265-GROUP")
	if mi.Quality != "brremux" {
		t.Errorf("Quality = %q, want %q", mi.Quality, "brremux")
	}
}

func TestParseMultiSeasonRange(t *testing.T) {
	mi := Parse("Show.Name.S01-S03.1080p.WEB-DL.x264-GROUP")
	if mi.FromSeason != 1 || mi.ToSeason != 3 {
		t.Errorf("FromSeason/ToSeason = %d/%d, want 1/3", mi.FromSeason, mi.ToSeason)
	}
}

func TestParseDoesNotOverwriteAlreadySetField(t *testing.T) {
	// Resolution is set once by the first matching parser (1080p); the
	// later "4k" alias parser must not clobber it.
	mi := Parse("Movie.1080p.4K.REMUX-GROUP")
	if mi.Resolution != 1080 {
		t.Errorf("Resolution = %d, want 1080 (first match wins, not overwritten)", mi.Resolution)
	}
}

package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

// force timezone to be on the east coast since all of the municipal
// records the bots read carry local dates; where the runner host lives
// must not change what comes out of <time.Time>.Year()/Month()/Day()
func Now() time.Time {
	return time.Now().In(Location)
}

func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

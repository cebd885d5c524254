package db

// timeLayout is how timestamps are stored so SQLite date functions can read them.
const timeLayout = "2006-01-02 15:04:05"

// dateLayout is used for calendar dates such as the reading date of a push.
const dateLayout = "2006-01-02"

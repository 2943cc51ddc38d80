package health

type MockHealthChecker struct {
	DbOk       bool
	ProgressOk bool
}

func (m MockHealthChecker) IsDatabaseOK() (string, bool) {
	return "", m.DbOk
}

func (m MockHealthChecker) IsProgressOK() (string, bool) {
	return "", m.ProgressOk
}
